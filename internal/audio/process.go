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

// Package audio prepares speech audio for transcription and derives the
// compact feature vectors used for voice adaptation.
package audio

import (
	"fmt"
	"math"

	"github.com/zeozeozeo/gomplerate"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/logging"
)

const (
	// TargetSampleRate is the rate whisper models expect
	TargetSampleRate = 16000

	// DefaultTargetDBFS is the loudness Normalize aims for
	DefaultTargetDBFS = -20.0

	// DefaultSilenceDB is how far below the loudest frame a frame may fall
	// before TrimSilence treats it as silence
	DefaultSilenceDB = 30.0

	trimFrameLength = 2048
	trimHopLength   = 512
	rmsEpsilon      = 1e-6
)

// ToMono averages interleaved channels into a single channel
func ToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	mono := make([]float32, len(samples)/channels)
	for i := range mono {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += samples[i*channels+ch]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// Resample converts mono samples between sample rates. Samples are
// quantised to 16-bit for the resampler.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	resampler, err := gomplerate.NewResampler(1, fromRate, toRate)
	if err != nil {
		return nil, fmt.Errorf("create resampler %d -> %d: %w", fromRate, toRate, err)
	}

	return int16ToFloat32(resampler.ResampleInt16(float32ToInt16(samples))), nil
}

// Normalize scales samples so their RMS level sits at targetDBFS
func Normalize(samples []float32, targetDBFS float64) []float32 {
	out := make([]float32, len(samples))
	if len(samples) == 0 {
		return out
	}

	gain := math.Pow(10, targetDBFS/20.0) / (rms(samples) + rmsEpsilon)
	for i, s := range samples {
		out[i] = float32(float64(s) * gain)
	}
	return out
}

// TrimSilence drops leading and trailing frames whose RMS falls more than
// topDB below the loudest frame. All-silent input is returned unchanged.
func TrimSilence(samples []float32, topDB float64) []float32 {
	if len(samples) <= trimFrameLength {
		return samples
	}

	var frames []float64
	for start := 0; start+trimFrameLength <= len(samples); start += trimHopLength {
		frames = append(frames, rms(samples[start:start+trimFrameLength]))
	}

	peak := 0.0
	for _, f := range frames {
		peak = math.Max(peak, f)
	}
	if peak == 0 {
		return samples
	}

	threshold := peak * math.Pow(10, -topDB/20.0)
	first, last := -1, -1
	for i, f := range frames {
		if f > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return samples
	}

	start := first * trimHopLength
	end := min(last*trimHopLength+trimFrameLength, len(samples))
	return samples[start:end]
}

// Preprocess brings a clip to the transcription format: mono at
// TargetSampleRate with RMS normalisation. Silence trimming is optional
// since it shifts segment timestamps.
func Preprocess(clip *Clip, trim bool) (*Clip, error) {
	if clip == nil {
		return nil, fmt.Errorf("nil audio clip")
	}

	samples, err := Resample(clip.Samples, clip.SampleRate, TargetSampleRate)
	if err != nil {
		return nil, err
	}
	if trim {
		samples = TrimSilence(samples, DefaultSilenceDB)
	}
	samples = Normalize(samples, DefaultTargetDBFS)

	if logging.Logger != nil {
		logging.Logger.Debug("audio preprocessed",
			zap.Int("input_rate", clip.SampleRate),
			zap.Int("samples", len(samples)),
			zap.Bool("trimmed", trim),
		)
	}

	return &Clip{Samples: samples, SampleRate: TargetSampleRate}, nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
