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

package learning

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/events"
	"github.com/loqalabs/loqa-adapt/internal/logging"
	"github.com/loqalabs/loqa-adapt/internal/observe"
	"github.com/loqalabs/loqa-adapt/internal/profile"
	"github.com/loqalabs/loqa-adapt/internal/terminology"
)

// UnknownVoiceID is returned by Service.VoiceID when no id can be derived.
const UnknownVoiceID = "unknown_voice"

// defaultVoiceThreshold is passed to the profile manager's voice id lookup.
const defaultVoiceThreshold = 0.9

// HistoryRecorder persists adaptation events.
type HistoryRecorder interface {
	Insert(ctx context.Context, event *events.AdaptationEvent) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// EventPublisher broadcasts adaptation events.
type EventPublisher interface {
	PublishAdaptationEvent(ctx context.Context, event *events.AdaptationEvent) error
}

// ServiceConfig wires the collaborators of a Service. Profiles is required;
// a nil Terminology selects the built-in table and History, Events and
// Metrics are optional.
type ServiceConfig struct {
	Profiles           *profile.Manager
	Terminology        *terminology.Table
	MaxVoiceEmbeddings int
	History            HistoryRecorder
	Events             EventPublisher
	Metrics            *observe.Metrics
}

// Stats summarises a user's adaptation state.
type Stats struct {
	UserID                string   `json:"user_id"`
	AdaptationSteps       int      `json:"adaptation_steps"`
	LastAdapted           *float64 `json:"last_adapted"`
	CustomTermsCount      int      `json:"custom_terms_count"`
	TotalCorrections      int      `json:"total_corrections"`
	BlacklistedTermsCount int      `json:"blacklisted_terms_count"`
	VoiceEmbeddingsCount  int      `json:"voice_embeddings_count"`
	TerminologySize       int      `json:"terminology_size"`
}

// Service applies corrections, voice updates and suggestion ranking to the
// profiles owned by its manager.
type Service struct {
	profiles *profile.Manager
	table    *terminology.Table
	learner  *CorrectionLearner
	ranker   *SuggestionRanker
	voice    *VoiceTracker
	history  HistoryRecorder
	events   EventPublisher
	metrics  *observe.Metrics
}

// NewService builds a Service from cfg.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Profiles == nil {
		return nil, fmt.Errorf("%w: profile manager is required", ErrValidation)
	}
	if cfg.Terminology == nil {
		cfg.Terminology = terminology.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Discard()
	}

	s := &Service{
		profiles: cfg.Profiles,
		table:    cfg.Terminology,
		learner:  NewCorrectionLearner(),
		ranker:   NewSuggestionRanker(cfg.Terminology),
		voice:    NewVoiceTracker(cfg.MaxVoiceEmbeddings),
		history:  cfg.History,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
	}

	if logging.Logger != nil {
		logging.Logger.Info("Adaptive learning service initialized",
			zap.String("storage_dir", cfg.Profiles.Store().Dir()),
			zap.Int("terminology_terms", cfg.Terminology.Len()),
			zap.Int("max_voice_embeddings", s.voice.maxEmbeddings))
	}
	return s, nil
}

// Profiles returns the profile manager.
func (s *Service) Profiles() *profile.Manager {
	return s.profiles
}

// AdaptToCorrection learns from a user correction and persists the profile.
// features, when non-empty, are also recorded as a voice sample. Identical
// texts are a no-op.
func (s *Service) AdaptToCorrection(ctx context.Context, userID, original, corrected string, features []float32, c Context) error {
	if userID == "" {
		return fmt.Errorf("%w: %w", ErrValidation, profile.ErrEmptyUserID)
	}
	if original == "" || corrected == "" {
		return fmt.Errorf("%w: original and corrected text are required", ErrValidation)
	}
	if original == corrected {
		logging.LogProfileOperation("correction_noop", userID)
		s.metrics.RecordCorrection(ctx, "noop")
		return nil
	}

	var (
		result LearnResult
		steps  int
	)
	err := s.profiles.Update(userID, func(p *profile.UserProfile) error {
		var err error
		if result, err = s.learner.Learn(p, original, corrected, c); err != nil {
			return err
		}
		if len(features) > 0 {
			if err := s.voice.Update(p, features); err != nil {
				logging.LogWarn("Terminology updated but voice update failed",
					zap.String("user_id", userID), zap.Error(err))
				return err
			}
		}
		steps = p.VoiceProfile.AdaptationSteps
		return nil
	})
	if err != nil {
		s.metrics.RecordCorrection(ctx, "failed")
		return s.adaptationError(ctx, userID, "correction", err)
	}

	s.metrics.RecordCorrection(ctx, "applied")
	if result.Mapping != nil {
		s.metrics.TermsLearned.Add(ctx, 1)
	}
	logging.LogAdaptation(userID, "correction_applied",
		zap.Strings("added", result.Added),
		zap.Strings("removed", result.Removed))

	event := events.NewAdaptationEvent(events.KindCorrection, userID)
	event.SetCorrection(original, corrected, c.Specialty, result.Added, result.Removed)
	if result.Mapping != nil {
		event.SetMapping(result.Mapping.Original, result.Mapping.Preferred)
	}
	if len(features) > 0 {
		s.metrics.VoiceUpdates.Add(ctx, 1)
		event.SetVoice(s.VoiceID(features), steps)
	}
	s.record(ctx, event)
	return nil
}

// UpdateVoice records features as a voice sample for userID and persists the
// profile.
func (s *Service) UpdateVoice(ctx context.Context, userID string, features []float32) error {
	if userID == "" {
		return fmt.Errorf("%w: %w", ErrValidation, profile.ErrEmptyUserID)
	}

	var steps int
	err := s.profiles.Update(userID, func(p *profile.UserProfile) error {
		if err := s.voice.Update(p, features); err != nil {
			return err
		}
		steps = p.VoiceProfile.AdaptationSteps
		return nil
	})
	if err != nil {
		return s.adaptationError(ctx, userID, "voice_update", err)
	}

	s.metrics.VoiceUpdates.Add(ctx, 1)
	logging.LogAdaptation(userID, "voice_updated", zap.Int("adaptation_steps", steps))

	event := events.NewAdaptationEvent(events.KindVoiceUpdate, userID)
	event.SetVoice(s.VoiceID(features), steps)
	s.record(ctx, event)
	return nil
}

// adaptationError passes validation and profile errors through and wraps
// everything else as ErrAdaptation.
func (s *Service) adaptationError(ctx context.Context, userID, stage string, err error) error {
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrProfile) {
		return err
	}
	stageAttr := metric.WithAttributes(attribute.String("stage", stage))
	s.metrics.AdaptationFailures.Add(ctx, 1, stageAttr)
	if errors.Is(err, profile.ErrSave) {
		s.metrics.ProfileSaveFailures.Add(ctx, 1, stageAttr)
	}
	logging.LogError(err, "Adaptation failed, profile left unsaved",
		zap.String("user_id", userID), zap.String("stage", stage))
	return fmt.Errorf("%w: %s for user %s: %w", ErrAdaptation, stage, userID, err)
}

// Suggestions ranks learned and domain terms found in text. Empty text yields
// no suggestions without touching the profile.
func (s *Service) Suggestions(ctx context.Context, userID, text string, c Context, topN int) ([]Suggestion, error) {
	if isBlank(text) {
		return []Suggestion{}, nil
	}

	var out []Suggestion
	err := s.profiles.WithProfile(userID, func(p *profile.UserProfile) error {
		out = s.ranker.Rank(p, text, c, topN)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SuggestionsReturned.Record(ctx, int64(len(out)))
	return out, nil
}

// VoiceID derives a voice identifier from features, falling back to
// UnknownVoiceID when the vector is unusable.
func (s *Service) VoiceID(features []float32) string {
	id, err := s.profiles.VoiceID(features, defaultVoiceThreshold)
	if err != nil {
		logging.LogError(err, "Failed to derive voice id")
		return UnknownVoiceID
	}
	return id
}

// SaveAll persists every cached profile.
func (s *Service) SaveAll(ctx context.Context) error {
	err := s.profiles.SaveAll(ctx)
	if err != nil {
		s.metrics.ProfileSaveFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", "save_all")))
	}
	return err
}

// UserStats reports adaptation statistics. A user without a profile is an
// ErrProfile error rather than empty stats.
func (s *Service) UserStats(userID string) (Stats, error) {
	var stats Stats
	err := s.profiles.Inspect(userID, func(p *profile.UserProfile) error {
		stats = Stats{
			UserID:                userID,
			AdaptationSteps:       p.VoiceProfile.AdaptationSteps,
			CustomTermsCount:      len(p.Terminology.CustomTerms),
			TotalCorrections:      p.TotalCorrections(),
			BlacklistedTermsCount: len(p.Terminology.BlacklistedTerms),
			VoiceEmbeddingsCount:  len(p.VoiceProfile.VoiceEmbeddings),
			TerminologySize:       s.table.Len(),
		}
		if p.VoiceProfile.LastAdapted != nil {
			ts := *p.VoiceProfile.LastAdapted
			stats.LastAdapted = &ts
		}
		return nil
	})
	return stats, err
}

// ResetUserProfile deletes the stored profile, its cache entry and its
// history. It returns true when the reset succeeded.
func (s *Service) ResetUserProfile(ctx context.Context, userID string) (bool, error) {
	if _, err := s.profiles.Reset(userID); err != nil {
		logging.LogError(err, "Failed to reset profile", zap.String("user_id", userID))
		return false, err
	}
	s.metrics.ProfileResets.Add(ctx, 1)

	if s.history != nil {
		if _, err := s.history.DeleteByUser(ctx, userID); err != nil {
			logging.LogError(err, "Failed to clear adaptation history", zap.String("user_id", userID))
		}
	}
	s.publish(ctx, events.NewAdaptationEvent(events.KindReset, userID))
	return true, nil
}

// Blacklist stops term from being suggested to userID until a later
// correction introduces it again.
func (s *Service) Blacklist(ctx context.Context, userID, term string) error {
	normalized := normalizeTerm(term)
	if normalized == "" {
		return fmt.Errorf("%w: term is required", ErrValidation)
	}

	err := s.profiles.Update(userID, func(p *profile.UserProfile) error {
		if p.Terminology.BlacklistedTerms == nil {
			p.Terminology.BlacklistedTerms = profile.NewStringSet()
		}
		p.Terminology.BlacklistedTerms.Add(normalized)
		return nil
	})
	if err != nil {
		return s.adaptationError(ctx, userID, "blacklist", err)
	}

	event := events.NewAdaptationEvent(events.KindBlacklist, userID)
	event.SetCorrection("", "", "", nil, []string{normalized})
	s.record(ctx, event)
	return nil
}

// ListUsers returns the ids of all persisted profiles.
func (s *Service) ListUsers() []string {
	return s.profiles.ListUserIDs()
}

// record stores and publishes event. Failures are logged only.
func (s *Service) record(ctx context.Context, event *events.AdaptationEvent) {
	if s.history != nil {
		if err := s.history.Insert(ctx, event); err != nil {
			logging.LogError(err, "Failed to record adaptation history",
				zap.String("user_id", event.UserID), zap.String("kind", string(event.Kind)))
		}
	}
	s.publish(ctx, event)
}

func (s *Service) publish(ctx context.Context, event *events.AdaptationEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishAdaptationEvent(ctx, event); err != nil {
		logging.LogError(err, "Failed to publish adaptation event",
			zap.String("user_id", event.UserID), zap.String("kind", string(event.Kind)))
	}
}
