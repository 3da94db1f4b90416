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

package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/security"
)

var (
	// Global logger instance
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// Initialize sets up the global logger based on environment variables
func Initialize() error {
	config := LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "console"),
	}

	return InitializeWithConfig(config)
}

// InitializeWithConfig sets up the global logger with provided configuration
func InitializeWithConfig(config LogConfig) error {
	var zapConfig zap.Config

	switch strings.ToLower(config.Format) {
	case "json":
		zapConfig = zap.NewProductionConfig()
	default:
		zapConfig = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(config.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zapConfig.Level = level

	logger, err := zapConfig.Build(
		zap.AddCallerSkip(1), // Skip the wrapper functions
		zap.AddStacktrace(zap.ErrorLevel),
	)
	if err != nil {
		return err
	}

	Logger = logger
	Sugar = logger.Sugar()

	Sugar.Debugf("Structured logging initialized (level: %s, format: %s)",
		config.Level, config.Format)

	return nil
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		// Sync fails on stderr/stdout on some platforms; nothing to do about it
		_ = Logger.Sync()
	}
}

// Close cleans up the logger
func Close() {
	Sync()
}

// Helper functions for common logging patterns

// LogProfileOperation logs a profile store or cache operation
func LogProfileOperation(operation, userID string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "profile"),
		zap.String("operation", operation),
		zap.String("user_id", security.SanitizeLogInput(userID)),
	}

	Logger.Debug("Profile operation", append(baseFields, fields...)...)
}

// LogAdaptation logs a step of the adaptive learning pipeline
func LogAdaptation(userID, stage string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "adaptive_learning"),
		zap.String("user_id", security.SanitizeLogInput(userID)),
		zap.String("stage", stage),
	}

	Logger.Info("Adaptation", append(baseFields, fields...)...)
}

// LogTranscription logs a speech-to-text backend request
func LogTranscription(backend, stage string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "stt"),
		zap.String("backend", backend),
		zap.String("stage", stage),
	}

	Logger.Info("Transcription", append(baseFields, fields...)...)
}

// LogNATSEvent logs NATS messaging events
func LogNATSEvent(subject, action string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "messaging"),
		zap.String("subject", subject),
		zap.String("action", action),
	}

	Logger.Info("NATS event", append(baseFields, fields...)...)
}

// LogDatabaseOperation logs database operations
func LogDatabaseOperation(operation, table string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	baseFields := []zap.Field{
		zap.String("component", "database"),
		zap.String("operation", operation),
		zap.String("table", table),
	}

	Logger.Info("Database operation", append(baseFields, fields...)...)
}

// LogError logs errors with context
func LogError(err error, message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	Logger.Error(message, append([]zap.Field{zap.Error(err)}, fields...)...)
}

// LogWarn logs warnings with context
func LogWarn(message string, fields ...zap.Field) {
	if Logger == nil {
		return
	}

	Logger.Warn(message, fields...)
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
