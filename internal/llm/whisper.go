//go:build whisper

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

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/logging"
)

const backendWhisper = "whisper"

// WhisperTranscriber runs whisper.cpp in-process
type WhisperTranscriber struct {
	mu        sync.Mutex
	model     whisper.Model
	modelPath string
}

// NewWhisperTranscriber loads the ggml model at modelPath
func NewWhisperTranscriber(modelPath string) (*WhisperTranscriber, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	logging.LogTranscription(backendWhisper, "model_loaded", zap.String("model_path", modelPath))
	return &WhisperTranscriber{
		model:     model,
		modelPath: modelPath,
	}, nil
}

// Transcribe implements the Transcriber interface
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) (*Transcription, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty audio data")
	}

	// A whisper context is not safe for concurrent use, and the model
	// saturates the CPU anyway
	wt.mu.Lock()
	defer wt.mu.Unlock()

	if wt.model == nil {
		return nil, fmt.Errorf("whisper model not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := wt.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}

	language := opts.Language
	if language == "" {
		language = "auto"
	}
	if err := wctx.SetLanguage(language); err != nil {
		logging.LogWarn("whisper: failed to set language, using default",
			zap.String("language", language), zap.Error(err))
	}
	wctx.SetTranslate(opts.Translate)
	wctx.SetTemperature(opts.Temperature)
	if opts.Prompt != "" {
		wctx.SetInitialPrompt(opts.Prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to process audio: %w", err)
	}

	result := &Transcription{Language: wctx.DetectedLanguage()}
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read segment: %w", err)
		}
		result.Segments = append(result.Segments, Segment{
			Text:       segment.Text,
			Start:      segment.Start.Seconds(),
			End:        segment.End.Seconds(),
			Confidence: tokenConfidence(segment.Tokens),
		})
	}
	result.Text = joinSegments(result.Segments)
	if result.Language == "" {
		result.Language = normalizeLanguage("", opts.Language)
	}

	logging.LogTranscription(backendWhisper, "completed",
		zap.Int("segments", len(result.Segments)),
		zap.Int("text_length", len(result.Text)),
	)
	return result, nil
}

// tokenConfidence averages the token probabilities of a segment
func tokenConfidence(tokens []whisper.Token) *float64 {
	if len(tokens) == 0 {
		return nil
	}
	var sum float64
	for _, tok := range tokens {
		sum += float64(tok.P)
	}
	c := sum / float64(len(tokens))
	return &c
}

// Close releases the model
func (wt *WhisperTranscriber) Close() error {
	wt.mu.Lock()
	defer wt.mu.Unlock()

	if wt.model == nil {
		return nil
	}
	err := wt.model.Close()
	wt.model = nil
	logging.LogTranscription(backendWhisper, "model_closed", zap.String("model_path", wt.modelPath))
	return err
}
