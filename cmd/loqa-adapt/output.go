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
	"encoding/json"
	"fmt"
	"io"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// printer writes human-readable status lines
type printer struct {
	w       io.Writer
	noColor bool
}

func newPrinter(w io.Writer, noColor bool) *printer {
	return &printer{w: w, noColor: noColor}
}

func (p *printer) colorize(color, text string) string {
	if p.noColor {
		return text
	}
	return color + text + colorReset
}

func (p *printer) successf(format string, args ...any) {
	fmt.Fprintln(p.w, p.colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func (p *printer) errorf(format string, args ...any) {
	fmt.Fprintln(p.w, p.colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func (p *printer) warnf(format string, args ...any) {
	fmt.Fprintln(p.w, p.colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func (p *printer) status(label, format string, args ...any) {
	fmt.Fprintf(p.w, "  %s %s\n", p.colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
