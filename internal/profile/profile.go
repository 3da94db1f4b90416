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

// Package profile holds the per-user adaptive learning record and its
// on-disk store.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/loqalabs/loqa-adapt/internal/security"
)

var (
	// ErrProfile reports an operation on a missing or unusable profile.
	ErrProfile = errors.New("profile error")
	// ErrValidation reports empty or malformed input.
	ErrValidation = errors.New("validation error")
	// ErrSerialization reports a stored record that could not be encoded or decoded.
	ErrSerialization = errors.New("serialization error")
	// ErrSave reports a profile record that could not be written to disk.
	ErrSave = errors.New("profile save failed")

	// ErrEmptyUserID is returned wherever a user id is required but missing.
	ErrEmptyUserID = fmt.Errorf("%w: user id cannot be empty", ErrProfile)
)

// ValidateUserID rejects ids that are empty or unsafe to use as a file name.
func ValidateUserID(userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := security.ValidateUserID(userID); err != nil {
		return fmt.Errorf("%w: %w", ErrProfile, err)
	}
	return nil
}

// StringSet is an unordered set of terms, persisted as a sorted JSON list.
type StringSet map[string]struct{}

// NewStringSet returns a set holding items.
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s StringSet) Add(item string) {
	s[item] = struct{}{}
}

func (s StringSet) Remove(item string) {
	delete(s, item)
}

func (s StringSet) Contains(item string) bool {
	_, ok := s[item]
	return ok
}

// Sorted returns the members in lexical order.
func (s StringSet) Sorted() []string {
	items := make([]string, 0, len(s))
	for item := range s {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewStringSet(items...)
	return nil
}

// Terminology is the learned vocabulary of one user.
type Terminology struct {
	// CustomTerms maps an original token to the token the user prefers.
	CustomTerms map[string]string `json:"custom_terms"`
	// TermFrequencies counts how often a token was introduced by a correction.
	TermFrequencies map[string]int `json:"term_frequencies"`
	// BlacklistedTerms are never suggested.
	BlacklistedTerms StringSet `json:"blacklisted_terms"`
}

// VoiceProfile is the bounded history of voice feature vectors.
type VoiceProfile struct {
	VoiceEmbeddings [][]float32 `json:"voice_embeddings"`
	AdaptationSteps int         `json:"adaptation_steps"`
	// LastAdapted is seconds since the Unix epoch, nil until the first update.
	LastAdapted *float64 `json:"last_adapted"`
}

const specialtyTermsKey = "specialty_terms"

// Preferences is an open mapping with one typed entry, specialty_terms.
type Preferences struct {
	// SpecialtyTerms maps a specialty name to the terms seen under it.
	SpecialtyTerms map[string]StringSet
	// Extra keeps every other key as decoded JSON.
	Extra map[string]any
}

func (p Preferences) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+1)
	for k, v := range p.Extra {
		out[k] = v
	}
	if len(p.SpecialtyTerms) > 0 {
		out[specialtyTermsKey] = p.SpecialtyTerms
	}
	return json.Marshal(out)
}

func (p *Preferences) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.SpecialtyTerms = make(map[string]StringSet)
	p.Extra = make(map[string]any)
	for k, v := range raw {
		if k == specialtyTermsKey {
			if err := json.Unmarshal(v, &p.SpecialtyTerms); err != nil {
				return fmt.Errorf("preferences.%s: %w", specialtyTermsKey, err)
			}
			if p.SpecialtyTerms == nil {
				p.SpecialtyTerms = make(map[string]StringSet)
			}
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("preferences.%s: %w", k, err)
		}
		p.Extra[k] = value
	}
	return nil
}

// UserProfile is the durable learned state of a single user.
type UserProfile struct {
	UserID       string       `json:"user_id"`
	Terminology  Terminology  `json:"terminology"`
	VoiceProfile VoiceProfile `json:"voice_profile"`
	Preferences  Preferences  `json:"preferences"`
}

// NewUserProfile returns an empty profile for userID.
func NewUserProfile(userID string) *UserProfile {
	p := &UserProfile{UserID: userID}
	p.normalize()
	return p
}

// normalize replaces nil collections left by decoding.
func (p *UserProfile) normalize() {
	if p.Terminology.CustomTerms == nil {
		p.Terminology.CustomTerms = make(map[string]string)
	}
	if p.Terminology.TermFrequencies == nil {
		p.Terminology.TermFrequencies = make(map[string]int)
	}
	if p.Terminology.BlacklistedTerms == nil {
		p.Terminology.BlacklistedTerms = make(StringSet)
	}
	if p.VoiceProfile.VoiceEmbeddings == nil {
		p.VoiceProfile.VoiceEmbeddings = [][]float32{}
	}
	if p.Preferences.SpecialtyTerms == nil {
		p.Preferences.SpecialtyTerms = make(map[string]StringSet)
	}
	if p.Preferences.Extra == nil {
		p.Preferences.Extra = make(map[string]any)
	}
}

// SpecialtyTerms returns the term set for specialty, creating it when absent.
func (p *UserProfile) SpecialtyTerms(specialty string) StringSet {
	if p.Preferences.SpecialtyTerms == nil {
		p.Preferences.SpecialtyTerms = make(map[string]StringSet)
	}
	terms, ok := p.Preferences.SpecialtyTerms[specialty]
	if !ok || terms == nil {
		terms = make(StringSet)
		p.Preferences.SpecialtyTerms[specialty] = terms
	}
	return terms
}

// TotalCorrections is the sum of all term frequencies.
func (p *UserProfile) TotalCorrections() int {
	total := 0
	for _, n := range p.Terminology.TermFrequencies {
		total += n
	}
	return total
}
