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

// Package messaging publishes adaptation events over NATS.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-adapt/internal/events"
	"github.com/loqalabs/loqa-adapt/internal/logging"
)

// DefaultSubject is the subject prefix for adaptation events; the event kind
// is appended as the last token.
const DefaultSubject = "loqa.adapt.events"

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("NATS connection not established")

// Config holds NATS connection settings
type Config struct {
	URL           string
	Subject       string
	Name          string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// connection is the subset of *nats.Conn used by the service.
type connection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	IsConnected() bool
	Close()
}

// NATSService publishes and subscribes to adaptation events
type NATSService struct {
	conn connection
	cfg  Config
}

// NewNATSService creates a new NATS service instance
func NewNATSService(cfg Config) *NATSService {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Name == "" {
		cfg.Name = "loqa-adapt"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &NATSService{cfg: cfg}
}

// Connect establishes connection to NATS server
func (ns *NATSService) Connect() error {
	logging.LogNATSEvent(ns.cfg.Subject, "connect", zap.String("url", ns.cfg.URL))

	opts := []nats.Option{
		nats.Name(ns.cfg.Name),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.Subject, "reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.LogNATSEvent(ns.cfg.Subject, "closed")
		}),
	}

	conn, err := nats.Connect(ns.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	logging.LogNATSEvent(ns.cfg.Subject, "connected", zap.String("url", conn.ConnectedUrl()))
	return nil
}

// SubjectFor returns the subject an event of kind is published on.
func (ns *NATSService) SubjectFor(kind events.Kind) string {
	return ns.cfg.Subject + "." + string(kind)
}

// PublishAdaptationEvent publishes event on the subject for its kind
func (ns *NATSService) PublishAdaptationEvent(ctx context.Context, event *events.AdaptationEvent) error {
	if ns.conn == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid adaptation event: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal adaptation event: %w", err)
	}

	subject := ns.SubjectFor(event.Kind)
	if err := ns.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logging.LogNATSEvent(subject, "published",
		zap.String("event_id", event.ID),
		zap.String("user_id", event.UserID))
	return nil
}

// SubscribeToAdaptationEvents delivers every adaptation event to handler.
// Messages that cannot be decoded are logged and dropped.
func (ns *NATSService) SubscribeToAdaptationEvents(handler func(*events.AdaptationEvent)) (*nats.Subscription, error) {
	if ns.conn == nil {
		return nil, ErrNotConnected
	}

	subject := ns.cfg.Subject + ".>"
	return ns.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event events.AdaptationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logging.LogError(err, "Failed to decode adaptation event", zap.String("subject", msg.Subject))
			return
		}
		handler(&event)
	})
}

// Close closes the NATS connection
func (ns *NATSService) Close() {
	if ns.conn != nil {
		ns.conn.Close()
		ns.conn = nil
	}
}

// IsConnected returns true if connected to NATS
func (ns *NATSService) IsConnected() bool {
	return ns.conn != nil && ns.conn.IsConnected()
}
