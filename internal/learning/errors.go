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

// Package learning turns user corrections into durable terminology knowledge
// and turns that knowledge back into transcription hints.
package learning

import (
	"errors"

	"github.com/loqalabs/loqa-adapt/internal/profile"
)

var (
	ErrValidation = profile.ErrValidation
	ErrProfile    = profile.ErrProfile

	// ErrAdaptation wraps unexpected failures while applying a correction or
	// voice update.
	ErrAdaptation = errors.New("adaptation failed")
	// ErrLearningDisabled is returned by operations that need adaptive
	// learning when it is switched off.
	ErrLearningDisabled = errors.New("adaptive learning is disabled")
)

// Context carries optional scoping for a correction or suggestion request.
type Context struct {
	// Specialty scopes learned terms to a subject area, e.g. "cardiology".
	Specialty string
}
