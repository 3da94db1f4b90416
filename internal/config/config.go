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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the adaptive learning service.
// It is built once by the caller and handed to constructors; there is no
// package-level instance.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Learning LearningConfig `yaml:"learning"`
	STT      STTConfig      `yaml:"stt"`
	Audio    AudioConfig    `yaml:"audio"`
	Logging  LoggingConfig  `yaml:"logging"`
	NATS     NATSConfig     `yaml:"nats"`
	History  HistoryConfig  `yaml:"history"`
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	ProfileDir      string `yaml:"profile_dir"`      // One JSON record per user
	TerminologyPath string `yaml:"terminology_path"` // Optional JSON/YAML terminology table
	DBPath          string `yaml:"db_path"`          // SQLite correction history
}

// LearningConfig holds adaptive learning configuration
type LearningConfig struct {
	Enabled            bool `yaml:"enabled"`
	MaxVoiceEmbeddings int  `yaml:"max_voice_embeddings"`
	SuggestionTopN     int  `yaml:"suggestion_top_n"`
	PromptTerms        int  `yaml:"prompt_terms"` // Suggestions folded into the decoder prompt
}

// STTConfig holds Speech-to-Text backend configuration
type STTConfig struct {
	Backend     string  `yaml:"backend"`    // "rest" or "whisper"
	URL         string  `yaml:"url"`        // REST API URL for OpenAI-compatible STT service
	ModelPath   string  `yaml:"model_path"` // ggml model for the native whisper backend
	Language    string  `yaml:"language"`
	Temperature float32 `yaml:"temperature"`
}

// AudioConfig holds audio preprocessing configuration
type AudioConfig struct {
	TrimSilence bool `yaml:"trim_silence"` // Drop leading and trailing silence before decoding
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NATSConfig holds NATS messaging configuration
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// HistoryConfig controls the SQLite correction history
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			ProfileDir: defaultProfileDir(),
			DBPath:     "./data/loqa-adapt.db",
		},
		Learning: LearningConfig{
			Enabled:            true,
			MaxVoiceEmbeddings: 100,
			SuggestionTopN:     5,
			PromptTerms:        5,
		},
		STT: STTConfig{
			Backend:     "rest",
			URL:         "http://stt:8000",
			Language:    "",
			Temperature: 0.0,
		},
		Audio: AudioConfig{
			TrimSilence: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			Subject:       "loqa.adapt.events",
			MaxReconnect:  10,
			ReconnectWait: 2 * time.Second,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by LOQA_CONFIG, and environment variables, in that order of precedence.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("LOQA_CONFIG"))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnv overrides fields whose environment variable is set
func (c *Config) applyEnv() {
	c.Storage.ProfileDir = getEnvString("LOQA_PROFILE_DIR", c.Storage.ProfileDir)
	c.Storage.TerminologyPath = getEnvString("LOQA_TERMINOLOGY_PATH", c.Storage.TerminologyPath)
	c.Storage.DBPath = getEnvString("LOQA_DB_PATH", c.Storage.DBPath)

	c.Learning.Enabled = getEnvBool("LOQA_LEARNING_ENABLED", c.Learning.Enabled)
	c.Learning.MaxVoiceEmbeddings = getEnvInt("LOQA_MAX_VOICE_EMBEDDINGS", c.Learning.MaxVoiceEmbeddings)
	c.Learning.SuggestionTopN = getEnvInt("LOQA_SUGGESTION_TOP_N", c.Learning.SuggestionTopN)
	c.Learning.PromptTerms = getEnvInt("LOQA_PROMPT_TERMS", c.Learning.PromptTerms)

	c.STT.Backend = getEnvString("STT_BACKEND", c.STT.Backend)
	c.STT.URL = getEnvString("STT_URL", c.STT.URL)
	c.STT.ModelPath = getEnvString("WHISPER_MODEL_PATH", c.STT.ModelPath)
	c.STT.Language = getEnvString("STT_LANGUAGE", c.STT.Language)
	c.STT.Temperature = getEnvFloat32("STT_TEMPERATURE", c.STT.Temperature)

	c.Audio.TrimSilence = getEnvBool("AUDIO_TRIM_SILENCE", c.Audio.TrimSilence)

	c.Logging.Level = getEnvString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvString("LOG_FORMAT", c.Logging.Format)

	c.NATS.Enabled = getEnvBool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnvString("NATS_URL", c.NATS.URL)
	c.NATS.Subject = getEnvString("NATS_SUBJECT", c.NATS.Subject)
	c.NATS.MaxReconnect = getEnvInt("NATS_MAX_RECONNECT", c.NATS.MaxReconnect)
	c.NATS.ReconnectWait = getEnvDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait)

	c.History.Enabled = getEnvBool("LOQA_HISTORY_ENABLED", c.History.Enabled)
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Storage.ProfileDir == "" {
		return fmt.Errorf("profile directory must be provided")
	}

	if c.Learning.MaxVoiceEmbeddings <= 0 {
		return fmt.Errorf("max voice embeddings must be positive: %d", c.Learning.MaxVoiceEmbeddings)
	}

	if c.Learning.SuggestionTopN < 0 {
		return fmt.Errorf("suggestion top n must not be negative: %d", c.Learning.SuggestionTopN)
	}

	if c.Learning.PromptTerms < 0 {
		return fmt.Errorf("prompt terms must not be negative: %d", c.Learning.PromptTerms)
	}

	switch c.STT.Backend {
	case "rest":
		if c.STT.URL == "" {
			return fmt.Errorf("STT URL must be provided for the rest backend")
		}
	case "whisper":
		if c.STT.ModelPath == "" {
			return fmt.Errorf("whisper model path must be provided for the whisper backend")
		}
	default:
		return fmt.Errorf("unknown STT backend: %q", c.STT.Backend)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("NATS URL must be provided when NATS is enabled")
	}

	if c.History.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("database path must be provided when history is enabled")
	}

	return nil
}

// defaultProfileDir mirrors the per-user data directory of the desktop tools
func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data/profiles"
	}
	return filepath.Join(home, ".loqa", "adaptive_learning")
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatValue)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
