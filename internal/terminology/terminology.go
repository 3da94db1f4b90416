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

// Package terminology provides the static table of canonical domain terms and
// the misspelled variants a transcription may produce for them.
package terminology

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-adapt/internal/logging"
)

// Entry is one canonical term and its variant spellings. Variants include the
// canonical form itself.
type Entry struct {
	Canonical string
	Variants  []string
}

// Table is an ordered, read-only set of entries.
type Table struct {
	entries []Entry
	index   map[string]int
}

// New builds a table from entries. A repeated canonical term replaces the
// earlier variants but keeps its original position.
func New(entries []Entry) *Table {
	t := &Table{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		variants := append([]string(nil), e.Variants...)
		if i, ok := t.index[e.Canonical]; ok {
			t.entries[i].Variants = variants
			continue
		}
		t.index[e.Canonical] = len(t.entries)
		t.entries = append(t.entries, Entry{Canonical: e.Canonical, Variants: variants})
	}
	return t
}

// Default returns the built-in medical table.
func Default() *Table {
	return New([]Entry{
		{"ibuprofen", []string{"ibuprofen", "ibuprufen", "ibuporfen", "ibupofen"}},
		{"acetaminophen", []string{"acetaminophen", "acitaminophen", "acetamenophen", "paracetamol"}},
		{"amoxicillin", []string{"amoxicillin", "amoxacillin", "amoxycillin"}},
		{"hypertension", []string{"hypertension", "hipertension", "hypertention"}},
		{"diabetes", []string{"diabetes", "diabetis", "diabete"}},
		{"asthma", []string{"asthma", "azma", "asthme"}},
		{"antibiotics", []string{"antibiotics", "antibioitcs", "antibotics"}},
		{"allergy", []string{"allergy", "alergy", "allergie"}},
		{"prescription", []string{"prescription", "perscription", "precription"}},
		{"symptom", []string{"symptom", "sympton", "simptom"}},
	})
}

// Load reads a JSON or YAML mapping of canonical term to variant list,
// keeping the order in which canonical terms appear in the file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminology file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a terminology document.
func Parse(data []byte) (*Table, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse terminology: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("terminology document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("terminology must be a mapping, got line %d", root.Line)
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		var variants []string
		if err := value.Decode(&variants); err != nil {
			return nil, fmt.Errorf("terminology entry %q: %w", key.Value, err)
		}
		entries = append(entries, Entry{Canonical: key.Value, Variants: variants})
	}
	return New(entries), nil
}

// LoadOrDefault loads path when it is set and readable, otherwise it logs the
// problem and returns the built-in table.
func LoadOrDefault(path string) *Table {
	if path == "" {
		return Default()
	}

	table, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.LogWarn("Terminology file not found, using built-in table",
				zap.String("path", path))
		} else {
			logging.LogError(err, "Failed to load terminology, using built-in table",
				zap.String("path", path))
		}
		return Default()
	}

	if logging.Logger != nil {
		logging.Logger.Info("Loaded terminology table",
			zap.String("path", path),
			zap.Int("terms", table.Len()))
	}
	return table
}

// Entries returns the entries in table order. Callers must not modify them.
func (t *Table) Entries() []Entry {
	return t.entries
}

// Variants returns the variant list for canonical.
func (t *Table) Variants(canonical string) ([]string, bool) {
	i, ok := t.index[canonical]
	if !ok {
		return nil, false
	}
	return t.entries[i].Variants, true
}

func (t *Table) Len() int {
	return len(t.entries)
}
