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

package transcription

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-adapt/internal/audio"
	"github.com/loqalabs/loqa-adapt/internal/learning"
	"github.com/loqalabs/loqa-adapt/internal/llm"
	"github.com/loqalabs/loqa-adapt/internal/profile"
)

func tone(n, sampleRate int) *audio.Clip {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate)))
	}
	return &audio.Clip{Samples: samples, SampleRate: sampleRate}
}

func newLearningService(t *testing.T) *learning.Service {
	t.Helper()

	store, err := profile.NewStore(t.TempDir())
	require.NoError(t, err)
	svc, err := learning.NewService(learning.ServiceConfig{Profiles: profile.NewManager(store)})
	require.NoError(t, err)
	return svc
}

func newService(t *testing.T, mock *llm.MockTranscriber, learn *learning.Service, promptTerms int) *Service {
	t.Helper()

	svc, err := NewService(Config{
		Transcriber: mock,
		Learning:    learn,
		PromptTerms: promptTerms,
	})
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresTranscriber(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestTranscribe_UsesLearnedTermsAndRecordsVoice(t *testing.T) {
	ctx := context.Background()
	mock := llm.NewMockTranscriber("cholesterol and hypertension", 0.9, 0.7)
	learn := newLearningService(t)
	svc := newService(t, mock, learn, 5)

	require.NoError(t, svc.CorrectTranscription(ctx, Correction{
		UserID:    "dr_smith",
		Original:  "colestrol levels",
		Corrected: "cholesterol levels",
	}))

	result, err := svc.Transcribe(ctx, Request{
		UserID:   "dr_smith",
		Audio:    tone(8000, audio.TargetSampleRate),
		HintText: "colestrol and hipertension",
	})
	require.NoError(t, err)

	assert.Equal(t, "cholesterol and hypertension", result.Text)
	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
	assert.InDelta(t, 0.5, result.Duration, 1e-9)
	assert.Equal(t, "Preferred terms: cholesterol, hypertension", result.Prompt)
	assert.Empty(t, result.TranslatedText)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 8000, calls[0].Samples)
	assert.Equal(t, "Preferred terms: cholesterol, hypertension", calls[0].Options.Prompt)
	assert.False(t, calls[0].Options.Translate)

	stats, err := svc.UserStats("dr_smith")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AdaptationSteps)
	assert.Equal(t, 1, stats.VoiceEmbeddingsCount)
	assert.Equal(t, 1, stats.CustomTermsCount)
	assert.NotNil(t, stats.LastAdapted)
}

func TestTranscribe_PromptSelection(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		promptTerms int
		req         Request
		expected    string
	}{
		{
			name:        "explicit prompt wins",
			promptTerms: 5,
			req:         Request{UserID: "u1", Prompt: "Speaker is a cardiologist", HintText: "hipertension"},
			expected:    "Speaker is a cardiologist",
		},
		{
			name:        "prompting disabled",
			promptTerms: 0,
			req:         Request{UserID: "u1", HintText: "hipertension"},
			expected:    "",
		},
		{
			name:        "no hint text",
			promptTerms: 5,
			req:         Request{UserID: "u1"},
			expected:    "",
		},
		{
			name:        "top terms only",
			promptTerms: 1,
			req:         Request{UserID: "u1", HintText: "azma and hipertension"},
			expected:    "Preferred terms: hypertension",
		},
		{
			name:        "anonymous requests are not adapted",
			promptTerms: 5,
			req:         Request{HintText: "hipertension"},
			expected:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := llm.NewMockTranscriber("ok")
			svc := newService(t, mock, newLearningService(t), tt.promptTerms)

			tt.req.Audio = tone(1600, audio.TargetSampleRate)
			result, err := svc.Transcribe(ctx, tt.req)
			require.NoError(t, err)

			assert.Equal(t, tt.expected, result.Prompt)
			require.Len(t, mock.Calls(), 1)
			assert.Equal(t, tt.expected, mock.Calls()[0].Options.Prompt)
		})
	}
}

func TestTranscribe_ResamplesInput(t *testing.T) {
	mock := llm.NewMockTranscriber("ok")
	svc := newService(t, mock, nil, 5)

	result, err := svc.Transcribe(context.Background(), Request{Audio: tone(8000, 8000), Language: "de"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Duration, 1e-9)

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 16000, calls[0].Samples, 160)
	assert.Equal(t, "de", calls[0].Options.Language)
}

func TestTranslate(t *testing.T) {
	ctx := context.Background()

	t.Run("foreign speech is marked translated", func(t *testing.T) {
		mock := llm.NewMockTranscriber("good morning")
		mock.Result.Language = "es"
		svc := newService(t, mock, nil, 5)

		result, err := svc.Translate(ctx, Request{Audio: tone(1600, audio.TargetSampleRate)}, "fr")
		require.NoError(t, err)

		assert.True(t, mock.Calls()[0].Options.Translate)
		assert.Equal(t, "good morning", result.TranslatedText)
		assert.Equal(t, "en", result.TranslationLanguage)
	})

	t.Run("english speech is not", func(t *testing.T) {
		mock := llm.NewMockTranscriber("good morning")
		svc := newService(t, mock, nil, 5)

		result, err := svc.Translate(ctx, Request{Audio: tone(1600, audio.TargetSampleRate)}, "en")
		require.NoError(t, err)
		assert.Empty(t, result.TranslatedText)
		assert.Empty(t, result.TranslationLanguage)
	})
}

func TestTranscribe_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid audio", func(t *testing.T) {
		svc := newService(t, llm.NewMockTranscriber("ok"), nil, 5)

		for _, clip := range []*audio.Clip{nil, {SampleRate: 16000}, {Samples: []float32{0.1}, SampleRate: 0}} {
			_, err := svc.Transcribe(ctx, Request{Audio: clip})
			assert.ErrorIs(t, err, ErrInvalidAudio)
		}
	})

	t.Run("backend failure leaves the profile untouched", func(t *testing.T) {
		mock := llm.NewMockTranscriber("ok")
		mock.Err = errors.New("backend down")
		svc := newService(t, mock, newLearningService(t), 5)

		_, err := svc.Transcribe(ctx, Request{UserID: "u1", Audio: tone(1600, audio.TargetSampleRate)})
		assert.ErrorIs(t, err, ErrTranscription)
		assert.ErrorContains(t, err, "backend down")

		_, err = svc.UserStats("u1")
		assert.ErrorIs(t, err, learning.ErrProfile)
	})
}

func TestCorrectTranscription_ExtractsFeaturesFromAudio(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, llm.NewMockTranscriber("ok"), newLearningService(t), 5)

	require.NoError(t, svc.CorrectTranscription(ctx, Correction{
		UserID:    "u1",
		Original:  "take ibuprufen",
		Corrected: "take ibuprofen",
		Audio:     tone(4800, 48000),
		Context:   learning.Context{Specialty: "pharmacy"},
	}))

	stats, err := svc.UserStats("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VoiceEmbeddingsCount)
	assert.Equal(t, 1, stats.TotalCorrections)

	suggestions, err := svc.TerminologySuggestions(ctx, "u1", "ibuprufen twice daily", learning.Context{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, "ibuprofen", suggestions[0].Term)

	assert.ErrorIs(t, svc.CorrectTranscription(ctx, Correction{Original: "a", Corrected: "b"}), learning.ErrValidation)
}

func TestService_LearningDisabled(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, llm.NewMockTranscriber("ok"), nil, 5)
	assert.False(t, svc.LearningEnabled())

	suggestions, err := svc.TerminologySuggestions(ctx, "u1", "hipertension", learning.Context{}, 5)
	require.NoError(t, err)
	assert.Empty(t, suggestions)

	_, err = svc.ResetUserProfile(ctx, "u1")
	assert.ErrorIs(t, err, learning.ErrLearningDisabled)

	_, err = svc.UserStats("u1")
	assert.ErrorIs(t, err, learning.ErrLearningDisabled)

	err = svc.CorrectTranscription(ctx, Correction{UserID: "u1", Original: "a", Corrected: "b"})
	assert.ErrorIs(t, err, learning.ErrLearningDisabled)

	result, err := svc.Transcribe(ctx, Request{UserID: "u1", Audio: tone(1600, audio.TargetSampleRate), HintText: "hipertension"})
	require.NoError(t, err)
	assert.Empty(t, result.Prompt)
}

func TestResetUserProfile(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, llm.NewMockTranscriber("ok"), newLearningService(t), 5)

	require.NoError(t, svc.CorrectTranscription(ctx, Correction{UserID: "u1", Original: "azma", Corrected: "asthma"}))

	reset, err := svc.ResetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, reset)

	_, err = svc.UserStats("u1")
	assert.ErrorIs(t, err, learning.ErrProfile)
}

func TestService_ListsAndClose(t *testing.T) {
	mock := llm.NewMockTranscriber("ok")
	svc := newService(t, mock, newLearningService(t), 5)

	assert.Contains(t, svc.SupportedLanguages(), "sw")
	assert.Equal(t, []string{"tiny", "base", "small", "medium", "large"}, svc.AvailableModels())

	require.NoError(t, svc.Close(context.Background()))
	_, err := mock.Transcribe(context.Background(), []float32{0}, llm.Options{})
	assert.Error(t, err)
}
