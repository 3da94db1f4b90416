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

package learning

import (
	"fmt"
	"math"
	"time"

	"github.com/loqalabs/loqa-adapt/internal/profile"
)

// DefaultMaxVoiceEmbeddings bounds the voice history of a profile.
const DefaultMaxVoiceEmbeddings = 100

// VoiceTracker appends feature vectors to a profile's bounded voice history.
type VoiceTracker struct {
	maxEmbeddings int
	now           func() time.Time
}

// NewVoiceTracker returns a tracker keeping at most maxEmbeddings vectors.
func NewVoiceTracker(maxEmbeddings int) *VoiceTracker {
	if maxEmbeddings <= 0 {
		maxEmbeddings = DefaultMaxVoiceEmbeddings
	}
	return &VoiceTracker{maxEmbeddings: maxEmbeddings, now: time.Now}
}

// Update records features as the newest voice sample, evicting the oldest
// samples beyond the bound.
func (v *VoiceTracker) Update(p *profile.UserProfile, features []float32) error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrValidation)
	}
	if err := validateFeatures(features); err != nil {
		return err
	}

	vp := &p.VoiceProfile
	vp.VoiceEmbeddings = append(vp.VoiceEmbeddings, append([]float32(nil), features...))
	vp.AdaptationSteps++
	ts := float64(v.now().UnixNano()) / float64(time.Second)
	vp.LastAdapted = &ts

	if excess := len(vp.VoiceEmbeddings) - v.maxEmbeddings; excess > 0 {
		kept := make([][]float32, v.maxEmbeddings)
		copy(kept, vp.VoiceEmbeddings[excess:])
		vp.VoiceEmbeddings = kept
	}
	return nil
}

// validateFeatures requires a non-empty vector of finite values.
func validateFeatures(features []float32) error {
	if len(features) == 0 {
		return fmt.Errorf("%w: voice features must be a non-empty vector", ErrValidation)
	}
	for i, f := range features {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: voice feature %d is not finite", ErrValidation, i)
		}
	}
	return nil
}
