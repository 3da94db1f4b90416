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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-adapt/internal/audio"
	"github.com/loqalabs/loqa-adapt/internal/events"
	"github.com/loqalabs/loqa-adapt/internal/learning"
	"github.com/loqalabs/loqa-adapt/internal/transcription"
)

// setupEnv points every backend at temporary storage and a fake STT server
func setupEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("LOQA_CONFIG", "")
	t.Setenv("LOQA_PROFILE_DIR", filepath.Join(dir, "profiles"))
	t.Setenv("LOQA_DB_PATH", filepath.Join(dir, "history.db"))
	t.Setenv("LOQA_TERMINOLOGY_PATH", filepath.Join(dir, "missing-terminology.json"))
	t.Setenv("LOQA_LEARNING_ENABLED", "true")
	t.Setenv("LOQA_HISTORY_ENABLED", "true")
	t.Setenv("NATS_ENABLED", "false")
	t.Setenv("STT_BACKEND", "rest")
	t.Setenv("STT_LANGUAGE", "")
	t.Setenv("LOG_LEVEL", "error")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"patient has hypertension","language":"english",` +
			`"segments":[{"text":"patient has hypertension","start":0,"end":1,"confidence":0.9}]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	t.Setenv("STT_URL", server.URL)

	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--no-color"}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), err
}

func writeTone(t *testing.T, dir string, rate int) string {
	t.Helper()

	samples := make([]float32, rate)
	for i := range samples {
		samples[i] = 0.3 * float32((i%50)-25) / 25
	}
	data, err := audio.EncodeWAV(samples, rate)
	require.NoError(t, err)

	path := filepath.Join(dir, "tone.wav")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestNewAppWiresBackends(t *testing.T) {
	setupEnv(t)

	cmd := newRootCmd()
	cmd.SetContext(context.Background())
	cmd.SetErr(&bytes.Buffer{})

	a, err := newApp(cmd, &rootOptions{noColor: true})
	require.NoError(t, err)
	defer a.close(context.Background())

	assert.NotNil(t, a.telemetry)
	assert.NotNil(t, a.telemetry.Metrics)
	assert.NotNil(t, a.history)
	assert.NotNil(t, a.learning)
	assert.Nil(t, a.bus)
}

func TestCorrectSuggestStatsReset(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "correct", "--user", "dr_smith",
		"--original", "patient has colestrol", "--corrected", "patient has cholesterol")
	require.NoError(t, err)

	out, err := run(t, "--json", "suggest", "--user", "dr_smith", "check", "colestrol", "levels")
	require.NoError(t, err)
	var suggestions []learning.Suggestion
	require.NoError(t, json.Unmarshal([]byte(out), &suggestions))
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "cholesterol", suggestions[0].Term)
	assert.InDelta(t, 0.85, suggestions[0].Confidence, 1e-9)

	out, err = run(t, "--json", "stats", "--user", "dr_smith")
	require.NoError(t, err)
	var stats learning.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, "dr_smith", stats.UserID)
	assert.Equal(t, 1, stats.CustomTermsCount)
	assert.Equal(t, 1, stats.TotalCorrections)

	out, err = run(t, "users")
	require.NoError(t, err)
	assert.Equal(t, "dr_smith\n", out)

	out, err = run(t, "--json", "history", "--user", "dr_smith")
	require.NoError(t, err)
	var history []*events.AdaptationEvent
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 1)
	assert.Equal(t, events.KindCorrection, history[0].Kind)

	_, err = run(t, "reset", "--user", "dr_smith")
	require.NoError(t, err)

	_, err = run(t, "stats", "--user", "dr_smith")
	assert.ErrorIs(t, err, learning.ErrProfile)
}

func TestBlacklistHidesSuggestion(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "correct", "--user", "u1", "--original", "a colestrol", "--corrected", "a cholesterol")
	require.NoError(t, err)
	_, err = run(t, "blacklist", "--user", "u1", "cholesterol")
	require.NoError(t, err)

	out, err := run(t, "--json", "suggest", "--user", "u1", "colestrol")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestCorrectRequiresFlags(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "correct", "--user", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTranscribe(t *testing.T) {
	dir := setupEnv(t)
	wav := writeTone(t, dir, 8000)

	out, err := run(t, "--json", "transcribe", wav, "--user", "dr_smith")
	require.NoError(t, err)

	var result transcription.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "patient has hypertension", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.InDelta(t, 1.0, result.Duration, 0.05)

	out, err = run(t, "--json", "stats", "--user", "dr_smith")
	require.NoError(t, err)
	var stats learning.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.VoiceEmbeddingsCount)
	assert.Equal(t, 1, stats.AdaptationSteps)
}

func TestVoiceIDIsStable(t *testing.T) {
	dir := setupEnv(t)
	wav := writeTone(t, dir, 16000)

	first, err := run(t, "voice-id", wav)
	require.NoError(t, err)
	second, err := run(t, "voice-id", wav)
	require.NoError(t, err)

	assert.NotEmpty(t, strings.TrimSpace(first))
	assert.Equal(t, first, second)
}

func TestLearningDisabled(t *testing.T) {
	setupEnv(t)
	t.Setenv("LOQA_LEARNING_ENABLED", "false")

	_, err := run(t, "users")
	assert.ErrorIs(t, err, learning.ErrLearningDisabled)
}

func TestHistoryDisabled(t *testing.T) {
	setupEnv(t)
	t.Setenv("LOQA_HISTORY_ENABLED", "false")

	_, err := run(t, "history", "--user", "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestWatchWithoutNATS(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS")
}
