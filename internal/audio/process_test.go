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

package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n, sampleRate int, freq, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestToMono(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		channels int
		expected []float32
	}{
		{"mono passthrough", []float32{0.1, 0.2}, 1, []float32{0.1, 0.2}},
		{"stereo", []float32{1, 0, 0.5, 0.5}, 2, []float32{0.5, 0.5}},
		{"trailing partial frame dropped", []float32{1, 1, 1}, 2, []float32{1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToMono(tt.samples, tt.channels))
		})
	}
}

func TestResample(t *testing.T) {
	t.Run("same rate is a no-op", func(t *testing.T) {
		in := []float32{0.1, 0.2, 0.3}
		out, err := Resample(in, 16000, 16000)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("downsample shortens by the rate ratio", func(t *testing.T) {
		in := sine(48000, 48000, 440, 0.5)
		out, err := Resample(in, 48000, 16000)
		require.NoError(t, err)
		assert.InDelta(t, 16000, len(out), 160)
	})

	t.Run("upsample lengthens by the rate ratio", func(t *testing.T) {
		in := sine(8000, 8000, 440, 0.5)
		out, err := Resample(in, 8000, 16000)
		require.NoError(t, err)
		assert.InDelta(t, 16000, len(out), 160)
	})

	t.Run("invalid rates", func(t *testing.T) {
		_, err := Resample([]float32{0}, 0, 16000)
		assert.Error(t, err)
		_, err = Resample([]float32{0}, 16000, -1)
		assert.Error(t, err)
	})
}

func TestNormalize(t *testing.T) {
	in := sine(16000, 16000, 440, 0.9)
	out := Normalize(in, DefaultTargetDBFS)

	require.Len(t, out, len(in))
	assert.InDelta(t, 0.1, rms(out), 1e-4)
	assert.NotSame(t, &in[0], &out[0])

	t.Run("silence stays silent", func(t *testing.T) {
		out := Normalize(make([]float32, 100), DefaultTargetDBFS)
		for _, s := range out {
			assert.Zero(t, s)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Normalize(nil, DefaultTargetDBFS))
	})
}

func TestTrimSilence(t *testing.T) {
	const pad = 8000
	tone := sine(16000, 16000, 440, 0.5)

	in := make([]float32, 0, 2*pad+len(tone))
	in = append(in, make([]float32, pad)...)
	in = append(in, tone...)
	in = append(in, make([]float32, pad)...)

	out := TrimSilence(in, DefaultSilenceDB)
	assert.Less(t, len(out), len(in))
	assert.GreaterOrEqual(t, len(out), len(tone))
	// Trimming never cuts further than one analysis frame into the tone
	assert.LessOrEqual(t, len(out), len(tone)+2*trimFrameLength)

	t.Run("all silent input is unchanged", func(t *testing.T) {
		silent := make([]float32, 10000)
		assert.Len(t, TrimSilence(silent, DefaultSilenceDB), len(silent))
	})

	t.Run("short input is unchanged", func(t *testing.T) {
		short := []float32{0, 0, 0.5}
		assert.Equal(t, short, TrimSilence(short, DefaultSilenceDB))
	})
}

func TestPreprocess(t *testing.T) {
	clip := &Clip{Samples: sine(8000, 8000, 300, 0.8), SampleRate: 8000}

	out, err := Preprocess(clip, false)
	require.NoError(t, err)
	assert.Equal(t, TargetSampleRate, out.SampleRate)
	assert.InDelta(t, 16000, len(out.Samples), 160)
	assert.InDelta(t, 0.1, rms(out.Samples), 5e-3)

	_, err = Preprocess(nil, false)
	assert.Error(t, err)
}

func TestExtractFeatures(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected []float32
	}{
		{
			name:     "alternating full scale",
			samples:  []float32{1, -1, 1, -1},
			expected: []float32{0, 1, -1, 1, 1},
		},
		{
			name:     "constant",
			samples:  []float32{0.5, 0.5, 0.5, 0.5},
			expected: []float32{0.5, 0.5, 0.5, 0, 0.25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			features := ExtractFeatures(tt.samples, TargetSampleRate)
			require.Len(t, features, FeatureCount)
			assert.InDeltaSlice(t, tt.expected, features, 1e-6)
		})
	}

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, ExtractFeatures(nil, TargetSampleRate))
	})

	t.Run("other sample rates are resampled first", func(t *testing.T) {
		features := ExtractFeatures(sine(48000, 48000, 200, 0.5), 48000)
		require.Len(t, features, FeatureCount)
		// A 0.5 amplitude sine has energy 0.125
		assert.InDelta(t, 0.125, features[4], 0.01)
	})
}
