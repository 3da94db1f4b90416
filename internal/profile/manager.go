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
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/loqalabs/loqa-adapt/internal/logging"
)

const defaultSaveConcurrency = 4

// Manager caches profiles by user id and serialises mutation per user.
// Profiles handed out by GetProfile must only be mutated inside Update.
type Manager struct {
	store *Store

	mu       sync.RWMutex
	profiles map[string]*UserProfile

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	loads singleflight.Group

	saveConcurrency int
}

// NewManager returns a manager backed by store.
func NewManager(store *Store) *Manager {
	return &Manager{
		store:           store,
		profiles:        make(map[string]*UserProfile),
		locks:           make(map[string]*sync.Mutex),
		saveConcurrency: defaultSaveConcurrency,
	}
}

// Store returns the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, ok := m.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[userID] = lock
	}
	return lock
}

func (m *Manager) cached(userID string) (*UserProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok
}

// GetProfile returns the cached profile for userID, loading it from the store
// on first access. Concurrent first loads of the same id share one read.
func (m *Manager) GetProfile(userID string) (*UserProfile, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if p, ok := m.cached(userID); ok {
		return p, nil
	}

	v, err, _ := m.loads.Do(userID, func() (any, error) {
		if p, ok := m.cached(userID); ok {
			return p, nil
		}
		p, err := m.store.Load(userID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.profiles[userID] = p
		m.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*UserProfile), nil
}

// Lookup returns the profile for userID only if it is cached or persisted.
func (m *Manager) Lookup(userID string) (*UserProfile, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if p, ok := m.cached(userID); ok {
		return p, nil
	}
	exists, err := m.store.Exists(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfile, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: no profile for user %q", ErrProfile, userID)
	}
	return m.GetProfile(userID)
}

// WithProfile runs fn on the profile for userID while holding the user's lock.
// The profile is created when it does not exist yet.
func (m *Manager) WithProfile(userID string, fn func(*UserProfile) error) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.GetProfile(userID)
	if err != nil {
		return err
	}
	return fn(p)
}

// Inspect is WithProfile for profiles that must already exist.
func (m *Manager) Inspect(userID string, fn func(*UserProfile) error) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.Lookup(userID)
	if err != nil {
		return err
	}
	return fn(p)
}

// Update runs fn under the user's lock and persists the profile when fn
// succeeds. A failed save leaves the mutated profile cached for a later retry.
func (m *Manager) Update(userID string, fn func(*UserProfile) error) error {
	return m.WithProfile(userID, func(p *UserProfile) error {
		if err := fn(p); err != nil {
			return err
		}
		return m.store.Save(p)
	})
}

// Save persists the cached profile for userID.
func (m *Manager) Save(userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, ok := m.cached(userID)
	if !ok {
		return fmt.Errorf("%w: profile for user %q is not loaded", ErrProfile, userID)
	}
	return m.store.Save(p)
}

// SaveAll persists every cached profile. A failed save is logged and does not
// stop the others; all failures are returned joined.
func (m *Manager) SaveAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.profiles))
	for id := range m.profiles {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var (
		errMu sync.Mutex
		errs  []error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.saveConcurrency)

	for _, id := range ids {
		g.Go(func() error {
			var err error
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			} else {
				err = m.Save(id)
			}
			if err != nil && !errors.Is(err, ErrProfile) {
				logging.LogError(err, "Failed to save profile", zap.String("user_id", id))
				errMu.Lock()
				errs = append(errs, fmt.Errorf("user %s: %w", id, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if logging.Logger != nil {
		logging.Logger.Info("Saved user profiles",
			zap.Int("profiles", len(ids)),
			zap.Int("failures", len(errs)))
	}
	return errors.Join(errs...)
}

// Reset deletes the stored record and the cache entry for userID. It reports
// whether anything was removed.
func (m *Manager) Reset(userID string) (bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return false, err
	}
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := m.store.Delete(userID)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	_, wasCached := m.profiles[userID]
	delete(m.profiles, userID)
	m.mu.Unlock()

	logging.LogProfileOperation("reset", userID,
		zap.Bool("file_deleted", deleted), zap.Bool("cache_evicted", wasCached))
	return deleted || wasCached, nil
}

// ListUserIDs enumerates persisted profiles. Errors are logged and yield an
// empty list.
func (m *Manager) ListUserIDs() []string {
	ids, err := m.store.List()
	if err != nil {
		logging.LogError(err, "Failed to list user profiles")
		return []string{}
	}
	return ids
}

// CachedCount returns the number of profiles held in memory.
func (m *Manager) CachedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

// VoiceID derives a stable identifier from a feature vector by hashing its
// little-endian float32 bytes. This is a content hash, not speaker matching:
// equal vectors share an id and any numeric difference yields a new one.
// threshold is accepted for interface compatibility and ignored.
func (m *Manager) VoiceID(features []float32, threshold float64) (string, error) {
	_ = threshold
	if len(features) == 0 {
		return "", fmt.Errorf("%w: voice features must be a non-empty vector", ErrValidation)
	}

	hasher := sha256.New()
	var buf [4]byte
	for _, f := range features {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(f))
		hasher.Write(buf[:])
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	return "voice_" + sum[:16], nil
}
