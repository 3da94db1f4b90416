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

package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/logging"
	"github.com/loqalabs/loqa-adapt/internal/security"
)

const profileExt = ".json"

// Store persists one JSON record per user in a directory.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage directory must be provided", ErrValidation)
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, userID+profileExt)
}

// Exists reports whether a record for userID is on disk.
func (s *Store) Exists(userID string) (bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return false, err
	}
	info, err := os.Stat(s.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Load reads the record for userID. A missing or unreadable record yields a
// fresh empty profile; only an invalid user id is returned as an error.
func (s *Store) Load(userID string) (*UserProfile, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		logging.LogProfileOperation("create", userID)
		return NewUserProfile(userID), nil
	}
	if err != nil {
		logging.LogError(err, "Failed to read profile, starting fresh",
			zap.String("user_id", userID))
		return NewUserProfile(userID), nil
	}

	p, err := decodeProfile(userID, data)
	if err != nil {
		logging.LogError(err, "Failed to decode profile, starting fresh",
			zap.String("user_id", userID))
		return NewUserProfile(userID), nil
	}

	logging.LogProfileOperation("load", userID,
		zap.Int("custom_terms", len(p.Terminology.CustomTerms)),
		zap.Int("voice_embeddings", len(p.VoiceProfile.VoiceEmbeddings)))
	return p, nil
}

func decodeProfile(userID string, data []byte) (*UserProfile, error) {
	var p UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	p.UserID = userID
	p.normalize()
	return &p, nil
}

func encodeProfile(p *UserProfile) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

// Save writes p atomically: the record goes to a temporary file in the same
// directory, is synced and closed, then renamed over the final path.
func (s *Store) Save(p *UserProfile) error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrValidation)
	}
	if err := ValidateUserID(p.UserID); err != nil {
		return err
	}

	data, err := encodeProfile(p)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("%w: failed to create profile directory: %w", ErrSave, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+p.UserID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temporary profile file: %w", ErrSave, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: failed to write profile: %w", ErrSave, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: failed to sync profile: %w", ErrSave, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close profile: %w", ErrSave, err)
	}
	if err := os.Rename(tmpName, s.path(p.UserID)); err != nil {
		return fmt.Errorf("%w: failed to replace profile: %w", ErrSave, err)
	}
	committed = true

	logging.LogProfileOperation("save", p.UserID, zap.Int("bytes", len(data)))
	return nil
}

// Delete removes the record for userID and reports whether one existed.
func (s *Store) Delete(userID string) (bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return false, err
	}
	err := os.Remove(s.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete profile: %w", err)
	}
	logging.LogProfileOperation("delete", userID)
	return true, nil
}

// List returns the user ids of all persisted records, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !strings.HasSuffix(name, profileExt) {
			continue
		}
		id := strings.TrimSuffix(name, profileExt)
		if security.ValidateUserID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
