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
	"fmt"
	"net/http"
	"sync"
)

// HTTPClient interface for dependency injection in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockHTTPClient implements HTTPClient for testing
type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	return nil, fmt.Errorf("no mock function provided")
}

// MockCall records one Transcribe invocation
type MockCall struct {
	Samples int
	Options Options
}

// MockTranscriber returns a canned transcription and records its calls
type MockTranscriber struct {
	Result *Transcription
	Err    error

	mu     sync.Mutex
	calls  []MockCall
	closed bool
}

// NewMockTranscriber creates a mock that answers every call with text
func NewMockTranscriber(text string, confidences ...float64) *MockTranscriber {
	result := &Transcription{Text: text, Language: "en"}
	for _, c := range confidences {
		result.Segments = append(result.Segments, Segment{Text: text, Confidence: &c})
	}
	return &MockTranscriber{Result: result}
}

func (m *MockTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) (*Transcription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("transcriber closed")
	}
	m.calls = append(m.calls, MockCall{Samples: len(samples), Options: opts})
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return &Transcription{}, nil
	}

	out := *m.Result
	out.Segments = append([]Segment(nil), m.Result.Segments...)
	return &out, nil
}

// Calls returns a copy of the recorded invocations
func (m *MockTranscriber) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockTranscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
