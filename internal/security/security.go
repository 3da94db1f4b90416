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

package security

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidUserID is returned when a user ID cannot be used as a profile key
var ErrInvalidUserID = errors.New("invalid user ID")

// SanitizeLogInput removes newline characters to prevent log injection attacks
// This function should be used for all user-controlled data before logging
func SanitizeLogInput(input string) string {
	sanitized := strings.ReplaceAll(input, "\n", "")
	sanitized = strings.ReplaceAll(sanitized, "\r", "")
	return sanitized
}

// ValidateUserID ensures that a user ID is non-empty and can be used as the
// base name of a profile file without escaping the storage directory. Any
// other printable text, including spaces and non-ASCII letters, is allowed.
func ValidateUserID(userID string) error {
	if userID == "" {
		return ErrInvalidUserID
	}

	// Path separators, parent references and hidden files are never valid
	if strings.Contains(userID, "/") || strings.Contains(userID, "\\") || strings.Contains(userID, "..") {
		return ErrInvalidUserID
	}
	if strings.HasPrefix(userID, ".") {
		return ErrInvalidUserID
	}

	if !utf8.ValidString(userID) || strings.IndexFunc(userID, unicode.IsControl) >= 0 {
		return ErrInvalidUserID
	}

	return nil
}
