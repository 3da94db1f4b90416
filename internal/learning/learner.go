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
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/logging"
	"github.com/loqalabs/loqa-adapt/internal/profile"
)

const (
	minMappedTermLength    = 3
	minSpecialtyTermLength = 4
)

// TermMapping is a learned 1:1 substitution.
type TermMapping struct {
	Original  string
	Preferred string
}

// LearnResult describes what a correction changed.
type LearnResult struct {
	Added   []string
	Removed []string
	// Mapping is set when the correction recorded a custom term.
	Mapping *TermMapping
	// NoOp is true when the texts were identical.
	NoOp bool
}

// CorrectionLearner applies the word-level diff of a correction to a profile.
type CorrectionLearner struct{}

func NewCorrectionLearner() *CorrectionLearner {
	return &CorrectionLearner{}
}

// tokenSet lowercases text and splits it on whitespace.
func tokenSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// difference returns the sorted members of a that are not in b.
func difference(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for term := range a {
		if _, ok := b[term]; !ok {
			out = append(out, term)
		}
	}
	sort.Strings(out)
	return out
}

// Learn mutates p in place from the correction original -> corrected. It does
// not persist the profile.
func (l *CorrectionLearner) Learn(p *profile.UserProfile, original, corrected string, c Context) (LearnResult, error) {
	if p == nil || p.UserID == "" {
		return LearnResult{}, fmt.Errorf("%w: %w", ErrValidation, profile.ErrEmptyUserID)
	}
	if original == "" || corrected == "" {
		return LearnResult{}, fmt.Errorf("%w: original and corrected text are required", ErrValidation)
	}
	if original == corrected {
		return LearnResult{NoOp: true}, nil
	}

	originalTerms := tokenSet(original)
	correctedTerms := tokenSet(corrected)
	result := LearnResult{
		Added:   difference(correctedTerms, originalTerms),
		Removed: difference(originalTerms, correctedTerms),
	}

	term := &p.Terminology
	if term.TermFrequencies == nil {
		term.TermFrequencies = make(map[string]int)
	}
	if term.CustomTerms == nil {
		term.CustomTerms = make(map[string]string)
	}
	for _, added := range result.Added {
		if term.BlacklistedTerms != nil {
			term.BlacklistedTerms.Remove(added)
		}
		term.TermFrequencies[added]++
	}

	if len(result.Added) == 1 && len(result.Removed) == 1 {
		from, to := result.Removed[0], result.Added[0]
		if utf8.RuneCountInString(from) >= minMappedTermLength && utf8.RuneCountInString(to) >= minMappedTermLength {
			term.CustomTerms[from] = to
			result.Mapping = &TermMapping{Original: from, Preferred: to}
			logging.LogAdaptation(p.UserID, "term_mapping",
				zap.String("original", from), zap.String("preferred", to))
		}
	}

	if c.Specialty != "" {
		specialty := p.SpecialtyTerms(c.Specialty)
		for _, added := range result.Added {
			if utf8.RuneCountInString(added) >= minSpecialtyTermLength {
				specialty.Add(added)
			}
		}
	}

	return result, nil
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// normalizeTerm lowercases and trims a single term.
func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
