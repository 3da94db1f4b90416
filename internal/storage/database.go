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

// Package storage keeps the adaptation history in SQLite.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-adapt/internal/logging"
	"github.com/loqalabs/loqa-adapt/internal/security"
)

//go:embed *.sql
var schemaFiles embed.FS

const defaultDBPath = "./data/loqa-adapt.db"

// Database wraps SQLite connection with adaptation-specific operations
type Database struct {
	db   *sql.DB
	path string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	// Path is the database file, or ":memory:" for a private in-memory database.
	Path string
}

// NewDatabase creates a new database instance with SQLite
func NewDatabase(ctx context.Context, config DatabaseConfig) (*Database, error) {
	if config.Path == "" {
		config.Path = defaultDBPath
	}

	inMemory := config.Path == ":memory:"
	if !inMemory {
		if err := ensureDir(filepath.Dir(config.Path)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := configureSQLite(ctx, db, inMemory); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure SQLite: %w", err)
	}

	database := &Database{
		db:   db,
		path: config.Path,
	}

	if err := database.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logging.LogDatabaseOperation("connect", "adaptation_events",
		zap.String("path", security.SanitizeLogInput(config.Path)))
	return database, nil
}

// ensureDir creates directory if it doesn't exist
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0750)
}

// configureSQLite sets SQLite settings for a small single-writer workload
func configureSQLite(ctx context.Context, db *sql.DB, inMemory bool) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = memory",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if !inMemory {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %q: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations
func (d *Database) migrate(ctx context.Context) error {
	schemaSQL, err := schemaFiles.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	logging.LogDatabaseOperation("migrate", "adaptation_events")
	return nil
}

// DB returns the underlying sql.DB instance
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		logging.LogDatabaseOperation("close", "adaptation_events",
			zap.String("path", security.SanitizeLogInput(d.path)))
		return d.db.Close()
	}
	return nil
}

// Ping tests the database connection
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// GetPath returns the database file path
func (d *Database) GetPath() string {
	return d.path
}

// Checkpoint forces a WAL checkpoint to sync data to main database file
func (d *Database) Checkpoint(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint database: %w", err)
	}
	return nil
}
