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

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/events"
	"github.com/loqalabs/loqa-adapt/internal/logging"
)

// ErrEventNotFound is returned when no event matches the requested id.
var ErrEventNotFound = errors.New("adaptation event not found")

const eventColumns = `id, kind, user_id, timestamp,
	original_text, corrected_text, specialty, added_terms, removed_terms,
	mapped_from, mapped_to, voice_id, adaptation_steps`

// AdaptationEventsStore handles database operations for adaptation events
type AdaptationEventsStore struct {
	db *Database
}

// NewAdaptationEventsStore creates a new adaptation events store
func NewAdaptationEventsStore(db *Database) *AdaptationEventsStore {
	return &AdaptationEventsStore{db: db}
}

// Insert stores a new adaptation event in the database
func (s *AdaptationEventsStore) Insert(ctx context.Context, event *events.AdaptationEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid adaptation event: %w", err)
	}

	added, removed, err := event.TermsJSON()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO adaptation_events (` + eventColumns + `) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?
		)`

	_, err = s.db.DB().ExecContext(ctx, query,
		event.ID, string(event.Kind), event.UserID, event.Timestamp.UTC(),
		event.OriginalText, event.CorrectedText, event.Specialty, added, removed,
		event.MappedFrom, event.MappedTo, event.VoiceID, event.AdaptationSteps,
	)
	if err != nil {
		return fmt.Errorf("failed to insert adaptation event: %w", err)
	}

	logging.LogDatabaseOperation("insert", "adaptation_events",
		zap.String("id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("user_id", event.UserID))
	return nil
}

// GetByID retrieves an adaptation event by its id
func (s *AdaptationEventsStore) GetByID(ctx context.Context, id string) (*events.AdaptationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM adaptation_events WHERE id = ?`
	return scanEvent(s.db.DB().QueryRowContext(ctx, query, id))
}

// ListOptions defines filtering and pagination options
type ListOptions struct {
	// Filtering
	UserID    string
	Kind      events.Kind
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int

	// Oldest first when set; newest first otherwise.
	Ascending bool
}

// List retrieves adaptation events with pagination and filtering
func (s *AdaptationEventsStore) List(ctx context.Context, options ListOptions) ([]*events.AdaptationEvent, error) {
	query, args := buildListQuery("SELECT "+eventColumns, options, true)

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query adaptation events: %w", err)
	}
	defer rows.Close()

	var list []*events.AdaptationEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adaptation event: %w", err)
		}
		list = append(list, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating adaptation events: %w", err)
	}

	return list, nil
}

// Count returns the number of events matching the filter
func (s *AdaptationEventsStore) Count(ctx context.Context, options ListOptions) (int64, error) {
	query, args := buildListQuery("SELECT COUNT(*)", options, false)

	var count int64
	if err := s.db.DB().QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count adaptation events: %w", err)
	}
	return count, nil
}

// ListByUser returns the most recent events for a user
func (s *AdaptationEventsStore) ListByUser(ctx context.Context, userID string, limit int) ([]*events.AdaptationEvent, error) {
	return s.List(ctx, ListOptions{UserID: userID, Limit: limit})
}

// DeleteByUser removes every event recorded for a user and returns how many
// rows were deleted
func (s *AdaptationEventsStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.DB().ExecContext(ctx, "DELETE FROM adaptation_events WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete adaptation events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logging.LogDatabaseOperation("delete", "adaptation_events",
		zap.String("user_id", userID),
		zap.Int64("rows", rowsAffected))
	return rowsAffected, nil
}

// buildListQuery constructs the SQL query based on ListOptions
func buildListQuery(selectClause string, options ListOptions, paginate bool) (string, []any) {
	query := selectClause + " FROM adaptation_events WHERE 1=1"
	var args []any

	if options.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, options.UserID)
	}
	if options.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(options.Kind))
	}
	if options.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, options.StartTime.UTC())
	}
	if options.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, options.EndTime.UTC())
	}

	if !paginate {
		return query, args
	}

	if options.Ascending {
		query += " ORDER BY timestamp ASC, rowid ASC"
	} else {
		query += " ORDER BY timestamp DESC, rowid DESC"
	}

	if options.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, options.Limit)

		if options.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, options.Offset)
		}
	}

	return query, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent scans a database row into an AdaptationEvent
func scanEvent(row rowScanner) (*events.AdaptationEvent, error) {
	var (
		event          events.AdaptationEvent
		kind           string
		added, removed string
	)

	err := row.Scan(
		&event.ID, &kind, &event.UserID, &event.Timestamp,
		&event.OriginalText, &event.CorrectedText, &event.Specialty, &added, &removed,
		&event.MappedFrom, &event.MappedTo, &event.VoiceID, &event.AdaptationSteps,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	event.Kind = events.Kind(kind)

	if err := event.SetTermsFromJSON(added, removed); err != nil {
		return nil, err
	}
	return &event, nil
}
