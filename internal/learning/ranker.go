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
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/loqalabs/loqa-adapt/internal/profile"
	"github.com/loqalabs/loqa-adapt/internal/terminology"
)

const (
	customTermBase      = 0.8
	customTermBoostCap  = 0.19
	customTermFreqBoost = 0.05

	domainLeadingBase    = 0.7
	domainTrailingBase   = 0.5
	domainLeadingCount   = 3
	domainFreqBoost      = 0.2
	domainFreqSaturation = 5.0
	domainConfidenceCap  = 0.9

	specialtyConfidence = 0.6
)

// Suggestion is a term to prefer, with a confidence in [0, 1].
type Suggestion struct {
	Term       string  `json:"term"`
	Confidence float64 `json:"confidence"`
}

// SuggestionRanker scores learned and domain terms against a piece of text.
type SuggestionRanker struct {
	table *terminology.Table
}

func NewSuggestionRanker(table *terminology.Table) *SuggestionRanker {
	if table == nil {
		table = terminology.Default()
	}
	return &SuggestionRanker{table: table}
}

// Rank returns deduplicated suggestions for text ordered by descending
// confidence; equal confidences keep the order in which they were found.
// topN <= 0 returns every suggestion.
func (r *SuggestionRanker) Rank(p *profile.UserProfile, text string, c Context, topN int) []Suggestion {
	if strings.TrimSpace(text) == "" || p == nil {
		return []Suggestion{}
	}

	lower := strings.ToLower(text)
	term := p.Terminology
	var candidates []Suggestion

	originals := make([]string, 0, len(term.CustomTerms))
	for original := range term.CustomTerms {
		originals = append(originals, original)
	}
	sort.Strings(originals)
	for _, original := range originals {
		preferred := term.CustomTerms[original]
		if original == preferred || !strings.Contains(lower, original) {
			continue
		}
		freq := float64(term.TermFrequencies[preferred])
		confidence := customTermBase + math.Min(customTermBoostCap, freq*customTermFreqBoost)
		candidates = append(candidates, Suggestion{Term: preferred, Confidence: confidence})
	}

	for _, entry := range r.table.Entries() {
		leading := entry.Variants[:min(domainLeadingCount, len(entry.Variants))]
		for _, variant := range entry.Variants {
			if variant == entry.Canonical || !strings.Contains(lower, variant) {
				continue
			}
			base := domainTrailingBase
			if slices.Contains(leading, variant) {
				base = domainLeadingBase
			}
			freq := float64(term.TermFrequencies[entry.Canonical])
			boost := domainFreqBoost * math.Min(1, freq/domainFreqSaturation)
			candidates = append(candidates, Suggestion{
				Term:       entry.Canonical,
				Confidence: math.Min(domainConfidenceCap, base+boost),
			})
		}
	}

	if c.Specialty != "" {
		if terms, ok := p.Preferences.SpecialtyTerms[c.Specialty]; ok {
			for _, t := range terms.Sorted() {
				if strings.Contains(lower, t) && !suggested(candidates, t) {
					candidates = append(candidates, Suggestion{Term: t, Confidence: specialtyConfidence})
				}
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	seen := make(map[string]struct{}, len(candidates))
	out := make([]Suggestion, 0, len(candidates))
	for _, s := range candidates {
		if term.BlacklistedTerms.Contains(s.Term) {
			continue
		}
		if _, dup := seen[s.Term]; dup {
			continue
		}
		seen[s.Term] = struct{}{}
		out = append(out, s)
	}

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

func suggested(candidates []Suggestion, term string) bool {
	for _, s := range candidates {
		if s.Term == term {
			return true
		}
	}
	return false
}
