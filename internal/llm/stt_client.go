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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/audio"
	"github.com/loqalabs/loqa-adapt/internal/logging"
)

const backendREST = "rest"

// STTClient implements Transcriber against any OpenAI-compatible
// speech-to-text REST service
type STTClient struct {
	baseURL    string
	model      string
	httpClient HTTPClient
}

// STTOption configures an STTClient
type STTOption func(*STTClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c HTTPClient) STTOption {
	return func(s *STTClient) { s.httpClient = c }
}

// WithModel sets the model name sent with each request
func WithModel(model string) STTOption {
	return func(s *STTClient) { s.model = model }
}

// verbose_json response shape
type transcriptionResponse struct {
	Text     string            `json:"text"`
	Language string            `json:"language"`
	Segments []responseSegment `json:"segments"`
}

type responseSegment struct {
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	AvgLogprob *float64 `json:"avg_logprob"`
	Confidence *float64 `json:"confidence"`
}

// languageNames maps the names some servers report back to language codes
var languageNames = map[string]string{
	"english": "en", "spanish": "es", "french": "fr", "german": "de",
	"italian": "it", "portuguese": "pt", "russian": "ru", "chinese": "zh",
	"japanese": "ja", "hindi": "hi", "swahili": "sw", "kinyarwanda": "rw",
	"ganda": "lg", "yoruba": "yo",
}

// NewSTTClient creates a client and verifies the service answers its
// health check
func NewSTTClient(ctx context.Context, baseURL string, opts ...STTOption) (*STTClient, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}

	s := &STTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      "whisper-1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.healthCheck(ctx); err != nil {
		return nil, fmt.Errorf("STT service health check failed: %w", err)
	}

	logging.LogTranscription(backendREST, "connected", zap.String("base_url", s.baseURL))

	return s, nil
}

func (s *STTClient) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to STT service at %s: %w", s.baseURL, err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("STT service health check failed with status: %d", resp.StatusCode)
	}

	return nil
}

// Transcribe implements the Transcriber interface. Samples must be mono at
// audio.TargetSampleRate.
func (s *STTClient) Transcribe(ctx context.Context, samples []float32, opts Options) (*Transcription, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty audio data")
	}

	startTime := time.Now()

	wavData, err := audio.EncodeWAV(samples, audio.TargetSampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to convert audio to WAV: %w", err)
	}

	body, contentType, err := s.buildForm(wavData, opts)
	if err != nil {
		return nil, err
	}

	endpoint := s.baseURL + "/v1/audio/transcriptions"
	if opts.Translate {
		endpoint = s.baseURL + "/v1/audio/translations"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	logging.LogTranscription(backendREST, "request",
		zap.Int("samples", len(samples)),
		zap.String("task", string(opts.Task())),
		zap.Bool("prompted", opts.Prompt != ""),
	)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription HTTP request failed: %w", err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	result := parsed.toTranscription(opts.Language)

	logging.LogTranscription(backendREST, "completed",
		zap.Int64("processing_time_ms", time.Since(startTime).Milliseconds()),
		zap.Int("segments", len(result.Segments)),
		zap.Int("text_length", len(result.Text)),
	)

	return result, nil
}

func (s *STTClient) buildForm(wavData []byte, opts Options) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	audioWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := audioWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           s.model,
		"response_format": "verbose_json",
		"temperature":     strconv.FormatFloat(float64(opts.Temperature), 'f', -1, 32),
	}
	if opts.Language != "" && !opts.Translate {
		fields["language"] = opts.Language
	}
	if opts.Prompt != "" {
		fields["prompt"] = opts.Prompt
	}
	for _, key := range []string{"model", "response_format", "temperature", "language", "prompt"} {
		if v, ok := fields[key]; ok {
			if err := writer.WriteField(key, v); err != nil {
				return nil, "", fmt.Errorf("failed to write form field %s: %w", key, err)
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

func (r *transcriptionResponse) toTranscription(requested string) *Transcription {
	t := &Transcription{
		Text:     strings.TrimSpace(r.Text),
		Language: normalizeLanguage(r.Language, requested),
		Segments: make([]Segment, 0, len(r.Segments)),
	}

	for _, seg := range r.Segments {
		t.Segments = append(t.Segments, Segment{
			Text:       seg.Text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: segmentConfidence(seg),
		})
	}

	if t.Text == "" {
		t.Text = joinSegments(t.Segments)
	}
	return t
}

// segmentConfidence prefers an explicit confidence and otherwise maps the
// average token log probability onto [0, 1]
func segmentConfidence(seg responseSegment) *float64 {
	var c float64
	switch {
	case seg.Confidence != nil:
		c = *seg.Confidence
	case seg.AvgLogprob != nil:
		c = math.Exp(*seg.AvgLogprob)
	default:
		return nil
	}
	c = math.Max(0, math.Min(1, c))
	return &c
}

func normalizeLanguage(reported, requested string) string {
	reported = strings.ToLower(strings.TrimSpace(reported))
	if code, ok := languageNames[reported]; ok {
		return code
	}
	if reported != "" {
		return reported
	}
	if requested != "" {
		return strings.ToLower(requested)
	}
	return "en"
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		logging.LogWarn("failed to close response body", zap.Error(err))
	}
}

// Close cleans up resources
func (s *STTClient) Close() error {
	logging.LogTranscription(backendREST, "closed", zap.String("base_url", s.baseURL))
	return nil
}
