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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/config"
	"github.com/loqalabs/loqa-adapt/internal/learning"
	"github.com/loqalabs/loqa-adapt/internal/llm"
	"github.com/loqalabs/loqa-adapt/internal/logging"
	"github.com/loqalabs/loqa-adapt/internal/messaging"
	"github.com/loqalabs/loqa-adapt/internal/observe"
	"github.com/loqalabs/loqa-adapt/internal/profile"
	"github.com/loqalabs/loqa-adapt/internal/storage"
	"github.com/loqalabs/loqa-adapt/internal/terminology"
	"github.com/loqalabs/loqa-adapt/internal/transcription"
)

// app holds the services one command invocation works with
type app struct {
	opts      *rootOptions
	cfg       *config.Config
	out       io.Writer
	log       *printer
	telemetry *observe.Provider
	db        *storage.Database
	history   *storage.AdaptationEventsStore
	bus       *messaging.NATSService
	learning  *learning.Service
}

// newApp loads configuration and wires storage, messaging, metrics and the
// learning service. Optional backends that fail to start are skipped with a
// warning.
func newApp(cmd *cobra.Command, opts *rootOptions) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeWithConfig(logging.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := &app{
		opts: opts,
		cfg:  cfg,
		out:  cmd.OutOrStdout(),
		log:  newPrinter(cmd.ErrOrStderr(), opts.noColor),
	}

	if a.telemetry, err = observe.NewProvider(observe.ProviderConfig{ServiceVersion: version}); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if cfg.History.Enabled {
		db, err := storage.NewDatabase(ctx, storage.DatabaseConfig{Path: cfg.Storage.DBPath})
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to open correction history: %w", err)
		}
		a.db = db
		a.history = storage.NewAdaptationEventsStore(db)
	}

	if cfg.NATS.Enabled {
		bus := messaging.NewNATSService(messaging.Config{
			URL:           cfg.NATS.URL,
			Subject:       cfg.NATS.Subject,
			MaxReconnect:  cfg.NATS.MaxReconnect,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err := bus.Connect(); err != nil {
			a.log.warnf("adaptation events will not be published: %v", err)
		} else {
			a.bus = bus
		}
	}

	if cfg.Learning.Enabled {
		if a.learning, err = a.newLearningService(); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	return a, nil
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.LoadFile(opts.configPath)
	}
	return config.Load()
}

func (a *app) newLearningService() (*learning.Service, error) {
	store, err := profile.NewStore(a.cfg.Storage.ProfileDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile store: %w", err)
	}

	scfg := learning.ServiceConfig{
		Profiles:           profile.NewManager(store),
		Terminology:        terminology.LoadOrDefault(a.cfg.Storage.TerminologyPath),
		MaxVoiceEmbeddings: a.cfg.Learning.MaxVoiceEmbeddings,
		Metrics:            a.telemetry.Metrics,
	}
	if a.history != nil {
		scfg.History = a.history
	}
	if a.bus != nil {
		scfg.Events = a.bus
	}
	return learning.NewService(scfg)
}

// requireLearning returns the learning service or ErrLearningDisabled
func (a *app) requireLearning() (*learning.Service, error) {
	if a.learning == nil {
		return nil, learning.ErrLearningDisabled
	}
	return a.learning, nil
}

// newTranscriptionService connects the configured speech-to-text backend
func (a *app) newTranscriptionService(ctx context.Context) (*transcription.Service, error) {
	transcriber, err := llm.NewTranscriber(ctx, a.cfg.STT)
	if err != nil {
		return nil, err
	}

	return transcription.NewService(transcription.Config{
		Transcriber: transcriber,
		Learning:    a.learning,
		Metrics:     a.telemetry.Metrics,
		PromptTerms: a.cfg.Learning.PromptTerms,
		Language:    a.cfg.STT.Language,
		Temperature: a.cfg.STT.Temperature,
		TrimSilence: a.cfg.Audio.TrimSilence,
	})
}

// close flushes profiles and metrics and releases every backend
func (a *app) close(ctx context.Context) {
	if a.learning != nil {
		if err := a.learning.SaveAll(ctx); err != nil {
			a.log.warnf("some profiles were not saved: %v", err)
		}
	}

	if a.telemetry != nil {
		if a.opts.showMetrics {
			a.printMetrics(ctx)
		}
		if err := a.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.LogWarn("Failed to shut down metrics", zap.Error(err))
		}
	}

	if a.bus != nil {
		a.bus.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logging.LogWarn("Failed to close database", zap.Error(err))
		}
	}
	logging.Close()
}

func (a *app) printMetrics(ctx context.Context) {
	points, err := a.telemetry.Snapshot(ctx)
	if err != nil {
		a.log.warnf("metrics unavailable: %v", err)
		return
	}
	for _, p := range points {
		label := p.Name
		if p.Attributes != "" {
			label += "{" + p.Attributes + "}"
		}
		if p.Count > 0 {
			a.log.status(label, "count=%d sum=%g", p.Count, p.Value)
		} else {
			a.log.status(label, "%g", p.Value)
		}
	}
}

// withApp runs fn with a wired app and always closes it afterwards
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) error {
	a, err := newApp(cmd, opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	defer a.close(context.WithoutCancel(ctx))

	return fn(ctx, a)
}
