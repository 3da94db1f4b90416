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
	"slices"
	"strings"
)

// Task selects what the decoder produces
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// SupportedLanguages lists the language codes accepted for Options.Language
var SupportedLanguages = []string{"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "hi", "sw", "rw", "lg", "yo"}

// SupportedModels lists the whisper model sizes a backend may load
var SupportedModels = []string{"tiny", "base", "small", "medium", "large"}

// Options controls a single transcription request
type Options struct {
	Language    string // Empty for auto-detect
	Translate   bool   // Translate non-English speech to English
	Prompt      string // Initial decoder prompt
	Temperature float32
}

// Task returns the decoder task implied by the options
func (o Options) Task() Task {
	if o.Translate {
		return TaskTranslate
	}
	return TaskTranscribe
}

// Segment is one decoded span of speech
type Segment struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Transcription is the decoded output for one utterance
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments,omitempty"`
}

// AverageConfidence returns the mean segment confidence. Segments without
// a confidence count as zero; no segments yields zero.
func (t *Transcription) AverageConfidence() float64 {
	if t == nil || len(t.Segments) == 0 {
		return 0
	}

	var sum float64
	for _, seg := range t.Segments {
		if seg.Confidence != nil {
			sum += *seg.Confidence
		}
	}
	return sum / float64(len(t.Segments))
}

// Transcriber converts 16 kHz mono samples to text
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, opts Options) (*Transcription, error)
	Close() error
}

// IsSupportedLanguage reports whether code is a known language code.
// The empty string means auto-detect and is always accepted.
func IsSupportedLanguage(code string) bool {
	if code == "" {
		return true
	}
	return slices.Contains(SupportedLanguages, strings.ToLower(code))
}

func joinSegments(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		b.WriteString(seg.Text)
	}
	return strings.TrimSpace(b.String())
}
