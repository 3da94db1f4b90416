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

// Package transcription runs speech-to-text with per-user adaptation:
// learned terms are folded into the decoder prompt and every utterance
// feeds the speaker's voice profile.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/audio"
	"github.com/loqalabs/loqa-adapt/internal/learning"
	"github.com/loqalabs/loqa-adapt/internal/llm"
	"github.com/loqalabs/loqa-adapt/internal/logging"
	"github.com/loqalabs/loqa-adapt/internal/observe"
)

var (
	ErrInvalidAudio  = errors.New("invalid audio")
	ErrTranscription = errors.New("transcription failed")
)

const promptPrefix = "Preferred terms: "

// Config wires a Service. Transcriber is required; a nil Learning service
// disables adaptive learning.
type Config struct {
	Transcriber llm.Transcriber
	Learning    *learning.Service
	Metrics     *observe.Metrics

	// PromptTerms caps the suggestions used for the prompt; zero
	// disables prompting
	PromptTerms int
	Language    string
	Temperature float32
	TrimSilence bool
}

// Request describes one utterance to transcribe
type Request struct {
	UserID    string
	Audio     *audio.Clip
	Language  string // Overrides Config.Language
	Translate bool

	// HintText is ranked against the user's profile to build the prompt
	HintText string
	// Prompt, when set, is sent as-is and suppresses the learned prompt
	Prompt  string
	Context learning.Context
}

// Result is a finished transcription
type Result struct {
	Text                string        `json:"text"`
	Language            string        `json:"language"`
	Duration            float64       `json:"duration"`
	Confidence          float64       `json:"confidence"`
	Segments            []llm.Segment `json:"segments,omitempty"`
	TranslatedText      string        `json:"translated_text,omitempty"`
	TranslationLanguage string        `json:"translation_language,omitempty"`
	Prompt              string        `json:"prompt,omitempty"`
}

// Correction is a user's fix of an earlier transcription
type Correction struct {
	UserID    string
	Original  string
	Corrected string
	// Features of the utterance; derived from Audio when empty
	Features []float32
	Audio    *audio.Clip
	Context  learning.Context
}

// Service couples a transcriber with the adaptive learning service
type Service struct {
	transcriber llm.Transcriber
	learning    *learning.Service
	metrics     *observe.Metrics
	promptTerms int
	language    string
	temperature float32
	trim        bool
}

// NewService builds a Service from cfg
func NewService(cfg Config) (*Service, error) {
	if cfg.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Discard()
	}

	return &Service{
		transcriber: cfg.Transcriber,
		learning:    cfg.Learning,
		metrics:     cfg.Metrics,
		promptTerms: cfg.PromptTerms,
		language:    cfg.Language,
		temperature: cfg.Temperature,
		trim:        cfg.TrimSilence,
	}, nil
}

// LearningEnabled reports whether adaptive learning is wired in
func (s *Service) LearningEnabled() bool {
	return s.learning != nil
}

// Transcribe converts req.Audio to text. With adaptive learning enabled and
// a user id given, the user's learned terms prime the decoder and the
// utterance is recorded as a voice sample. Adaptation problems are logged
// and never fail the transcription.
func (s *Service) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if req.Audio == nil || len(req.Audio.Samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidAudio)
	}
	if req.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrInvalidAudio, req.Audio.SampleRate)
	}

	clip, err := audio.Preprocess(req.Audio, s.trim)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAudio, err)
	}

	adapt := s.learning != nil && req.UserID != ""

	var features []float32
	prompt := req.Prompt
	if adapt {
		// Features come from the raw clip; normalisation would flatten
		// the loudness statistics
		features = audio.ExtractFeatures(req.Audio.Samples, req.Audio.SampleRate)
		if prompt == "" {
			prompt = s.learnedPrompt(ctx, req)
		}
	}

	language := req.Language
	if language == "" {
		language = s.language
	}
	opts := llm.Options{
		Language:    language,
		Translate:   req.Translate,
		Prompt:      prompt,
		Temperature: s.temperature,
	}

	start := time.Now()
	out, err := s.transcriber.Transcribe(ctx, clip.Samples, opts)
	if err != nil {
		logging.LogError(err, "Transcription failed",
			zap.String("user_id", req.UserID),
			zap.String("task", string(opts.Task())))
		return nil, fmt.Errorf("%w: %w", ErrTranscription, err)
	}

	result := &Result{
		Text:       strings.TrimSpace(out.Text),
		Language:   out.Language,
		Duration:   req.Audio.Duration(),
		Confidence: out.AverageConfidence(),
		Segments:   out.Segments,
		Prompt:     prompt,
	}
	if result.Language == "" {
		result.Language = "en"
	}
	if req.Translate && result.Language != "en" {
		result.TranslatedText = result.Text
		result.TranslationLanguage = "en"
	}

	s.metrics.RecordTranscription(ctx, string(opts.Task()), time.Since(start).Seconds(), result.Confidence)

	if adapt && len(features) > 0 {
		if err := s.learning.UpdateVoice(ctx, req.UserID, features); err != nil {
			logging.LogWarn("Voice adaptation after transcription failed",
				zap.String("user_id", req.UserID), zap.Error(err))
		}
	}

	return result, nil
}

// learnedPrompt builds the "Preferred terms" prompt from the user's top
// suggestions for the hint text
func (s *Service) learnedPrompt(ctx context.Context, req Request) string {
	if s.promptTerms <= 0 {
		return ""
	}

	suggestions, err := s.learning.Suggestions(ctx, req.UserID, req.HintText, req.Context, s.promptTerms)
	if err != nil {
		logging.LogWarn("Adaptive learning preprocessing failed",
			zap.String("user_id", req.UserID), zap.Error(err))
		return ""
	}
	if len(suggestions) == 0 {
		return ""
	}

	terms := make([]string, len(suggestions))
	for i, sg := range suggestions {
		terms[i] = sg.Term
	}
	prompt := promptPrefix + strings.Join(terms, ", ")
	logging.LogAdaptation(req.UserID, "prompt", zap.String("prompt", prompt))
	return prompt
}

// Translate transcribes req.Audio with translation to English. Other
// target languages are not supported by the decoder and fall back to
// English with a warning.
func (s *Service) Translate(ctx context.Context, req Request, targetLanguage string) (*Result, error) {
	if target := strings.ToLower(targetLanguage); target != "" && target != "en" {
		logging.LogWarn("Translation supports English output only, translating to English",
			zap.String("requested", targetLanguage))
	}
	req.Translate = true
	return s.Transcribe(ctx, req)
}

// CorrectTranscription feeds a user correction into adaptive learning
func (s *Service) CorrectTranscription(ctx context.Context, c Correction) error {
	if s.learning == nil {
		return learning.ErrLearningDisabled
	}

	features := c.Features
	if len(features) == 0 && c.Audio != nil {
		features = audio.ExtractFeatures(c.Audio.Samples, c.Audio.SampleRate)
	}

	if err := s.learning.AdaptToCorrection(ctx, c.UserID, c.Original, c.Corrected, features, c.Context); err != nil {
		return err
	}

	logging.LogAdaptation(c.UserID, "correction_applied", zap.Bool("voice_sample", len(features) > 0))
	return nil
}

// TerminologySuggestions ranks the user's terms against text. It returns
// an empty list when adaptive learning is disabled.
func (s *Service) TerminologySuggestions(ctx context.Context, userID, text string, c learning.Context, topN int) ([]learning.Suggestion, error) {
	if s.learning == nil {
		return []learning.Suggestion{}, nil
	}
	return s.learning.Suggestions(ctx, userID, text, c, topN)
}

// ResetUserProfile discards everything learned for userID
func (s *Service) ResetUserProfile(ctx context.Context, userID string) (bool, error) {
	if s.learning == nil {
		return false, learning.ErrLearningDisabled
	}
	return s.learning.ResetUserProfile(ctx, userID)
}

// UserStats summarises the adaptation state of userID
func (s *Service) UserStats(userID string) (learning.Stats, error) {
	if s.learning == nil {
		return learning.Stats{}, learning.ErrLearningDisabled
	}
	return s.learning.UserStats(userID)
}

// SupportedLanguages lists accepted language codes
func (s *Service) SupportedLanguages() []string {
	return append([]string(nil), llm.SupportedLanguages...)
}

// AvailableModels lists whisper model sizes
func (s *Service) AvailableModels() []string {
	return append([]string(nil), llm.SupportedModels...)
}

// Close persists learned profiles and releases the transcriber
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.learning != nil {
		if err := s.learning.SaveAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.transcriber.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
