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

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/logging"
)

// FeatureCount is the length of the vectors ExtractFeatures returns
const FeatureCount = 5

// ExtractFeatures summarises an utterance as [mean, max, min, std, energy],
// where energy is the mean of the squared samples. Input recorded at
// another rate is first brought to TargetSampleRate so vectors from
// different devices stay comparable. Empty input yields nil.
func ExtractFeatures(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 {
		return nil
	}

	if sampleRate > 0 && sampleRate != TargetSampleRate {
		resampled, err := Resample(samples, sampleRate, TargetSampleRate)
		if err != nil {
			logging.LogWarn("feature extraction using original sample rate",
				zap.Int("sample_rate", sampleRate),
				zap.Error(err),
			)
		} else if len(resampled) > 0 {
			samples = resampled
		}
	}

	n := float64(len(samples))
	var sum, sumSquares float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		v := float64(s)
		sum += v
		sumSquares += v * v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	mean := sum / n
	energy := sumSquares / n
	variance := math.Max(0, energy-mean*mean)

	return []float32{
		float32(mean),
		float32(hi),
		float32(lo),
		float32(math.Sqrt(variance)),
		float32(energy),
	}
}
