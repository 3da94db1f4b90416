/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what changed in a user's adaptation state.
type Kind string

const (
	KindCorrection  Kind = "correction"
	KindVoiceUpdate Kind = "voice_update"
	KindBlacklist   Kind = "blacklist"
	KindReset       Kind = "reset"
)

// AdaptationEvent records one change to a user's learned state with full
// traceability
type AdaptationEvent struct {
	// Core identification
	ID        string    `json:"id" db:"id"`
	Kind      Kind      `json:"kind" db:"kind"`
	UserID    string    `json:"user_id" db:"user_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Correction data
	OriginalText  string   `json:"original_text,omitempty" db:"original_text"`
	CorrectedText string   `json:"corrected_text,omitempty" db:"corrected_text"`
	Specialty     string   `json:"specialty,omitempty" db:"specialty"`
	AddedTerms    []string `json:"added_terms,omitempty" db:"added_terms"`
	RemovedTerms  []string `json:"removed_terms,omitempty" db:"removed_terms"`
	MappedFrom    string   `json:"mapped_from,omitempty" db:"mapped_from"`
	MappedTo      string   `json:"mapped_to,omitempty" db:"mapped_to"`

	// Voice data
	VoiceID         string `json:"voice_id,omitempty" db:"voice_id"`
	AdaptationSteps int    `json:"adaptation_steps,omitempty" db:"adaptation_steps"`
}

// NewAdaptationEvent creates an event with a fresh UUID and the current time.
func NewAdaptationEvent(kind Kind, userID string) *AdaptationEvent {
	return &AdaptationEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

// SetCorrection stores the texts and the token diff of a correction.
func (e *AdaptationEvent) SetCorrection(original, corrected, specialty string, added, removed []string) {
	e.OriginalText = original
	e.CorrectedText = corrected
	e.Specialty = specialty
	e.AddedTerms = added
	e.RemovedTerms = removed
}

// SetMapping stores the custom term recorded by a correction.
func (e *AdaptationEvent) SetMapping(from, to string) {
	e.MappedFrom = from
	e.MappedTo = to
}

// SetVoice stores the voice state after an update.
func (e *AdaptationEvent) SetVoice(voiceID string, steps int) {
	e.VoiceID = voiceID
	e.AdaptationSteps = steps
}

// TermsJSON returns added and removed terms as JSON arrays for storage.
func (e *AdaptationEvent) TermsJSON() (added, removed string, err error) {
	a, err := json.Marshal(nonNil(e.AddedTerms))
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal added terms: %w", err)
	}
	r, err := json.Marshal(nonNil(e.RemovedTerms))
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal removed terms: %w", err)
	}
	return string(a), string(r), nil
}

// SetTermsFromJSON parses the stored term arrays.
func (e *AdaptationEvent) SetTermsFromJSON(added, removed string) error {
	var err error
	if e.AddedTerms, err = parseTerms(added); err != nil {
		return fmt.Errorf("failed to unmarshal added terms: %w", err)
	}
	if e.RemovedTerms, err = parseTerms(removed); err != nil {
		return fmt.Errorf("failed to unmarshal removed terms: %w", err)
	}
	return nil
}

func parseTerms(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return []string{}, nil
	}
	var terms []string
	if err := json.Unmarshal([]byte(s), &terms); err != nil {
		return nil, err
	}
	return terms, nil
}

func nonNil(terms []string) []string {
	if terms == nil {
		return []string{}
	}
	return terms
}

// IsValid performs basic validation on the event
func (e *AdaptationEvent) IsValid() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.UserID == "" {
		return fmt.Errorf("userID is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	switch e.Kind {
	case KindCorrection, KindVoiceUpdate, KindBlacklist, KindReset:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// String returns a human-readable representation of the event
func (e *AdaptationEvent) String() string {
	return fmt.Sprintf("AdaptationEvent{ID: %s, Kind: %s, UserID: %s, Added: %v, Mapping: %q->%q}",
		e.ID, e.Kind, e.UserID, e.AddedTerms, e.MappedFrom, e.MappedTo)
}
