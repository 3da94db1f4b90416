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

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-adapt/internal/events"
)

type published struct {
	subject string
	data    []byte
}

// fakeConn records publishes and hands subscriptions back to the test.
type fakeConn struct {
	mu         sync.Mutex
	messages   []published
	handlers   map[string]nats.MsgHandler
	publishErr error
	closed     bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]nats.MsgHandler)}
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, published{subject: subject, data: data})
	return nil
}

func (f *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[subject] = cb
	return &nats.Subscription{Subject: subject}, nil
}

func (f *fakeConn) IsConnected() bool { return !f.closed }

func (f *fakeConn) Close() { f.closed = true }

func newTestService(conn *fakeConn) *NATSService {
	ns := NewNATSService(Config{})
	ns.conn = conn
	return ns
}

func TestNewNATSService_Defaults(t *testing.T) {
	ns := NewNATSService(Config{})
	if ns.cfg.URL != nats.DefaultURL {
		t.Errorf("URL = %q, want %q", ns.cfg.URL, nats.DefaultURL)
	}
	if ns.cfg.Subject != DefaultSubject {
		t.Errorf("Subject = %q, want %q", ns.cfg.Subject, DefaultSubject)
	}
	if ns.IsConnected() {
		t.Error("new service should not report a connection")
	}
}

func TestPublishAdaptationEvent(t *testing.T) {
	conn := newFakeConn()
	ns := newTestService(conn)

	event := events.NewAdaptationEvent(events.KindCorrection, "alice")
	event.SetMapping("teh", "the")

	if err := ns.PublishAdaptationEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishAdaptationEvent() error = %v", err)
	}

	if len(conn.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(conn.messages))
	}
	msg := conn.messages[0]
	if msg.subject != "loqa.adapt.events.correction" {
		t.Errorf("subject = %q", msg.subject)
	}

	var decoded events.AdaptationEvent
	if err := json.Unmarshal(msg.data, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.ID != event.ID || decoded.MappedTo != "the" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestPublishAdaptationEvent_Errors(t *testing.T) {
	tests := []struct {
		name          string
		service       func() *NATSService
		ctx           func() context.Context
		event         *events.AdaptationEvent
		errorContains string
	}{
		{
			name:          "not connected",
			service:       func() *NATSService { return NewNATSService(Config{}) },
			ctx:           context.Background,
			event:         events.NewAdaptationEvent(events.KindReset, "bob"),
			errorContains: "not established",
		},
		{
			name:    "cancelled context",
			service: func() *NATSService { return newTestService(newFakeConn()) },
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			event:         events.NewAdaptationEvent(events.KindReset, "bob"),
			errorContains: "context canceled",
		},
		{
			name:          "invalid event",
			service:       func() *NATSService { return newTestService(newFakeConn()) },
			ctx:           context.Background,
			event:         events.NewAdaptationEvent(events.KindReset, ""),
			errorContains: "invalid adaptation event",
		},
		{
			name: "publish failure",
			service: func() *NATSService {
				conn := newFakeConn()
				conn.publishErr = errors.New("nats: connection closed")
				return newTestService(conn)
			},
			ctx:           context.Background,
			event:         events.NewAdaptationEvent(events.KindVoiceUpdate, "bob"),
			errorContains: "failed to publish to loqa.adapt.events.voice_update",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.service().PublishAdaptationEvent(tt.ctx(), tt.event)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errorContains) {
				t.Errorf("error = %v, want substring %q", err, tt.errorContains)
			}
		})
	}
}

func TestSubscribeToAdaptationEvents(t *testing.T) {
	conn := newFakeConn()
	ns := newTestService(conn)

	var received []*events.AdaptationEvent
	if _, err := ns.SubscribeToAdaptationEvents(func(e *events.AdaptationEvent) {
		received = append(received, e)
	}); err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}

	handler, ok := conn.handlers["loqa.adapt.events.>"]
	if !ok {
		t.Fatal("expected wildcard subscription")
	}

	event := events.NewAdaptationEvent(events.KindBlacklist, "carol")
	data, _ := json.Marshal(event)
	handler(&nats.Msg{Subject: ns.SubjectFor(event.Kind), Data: data})
	handler(&nats.Msg{Subject: "loqa.adapt.events.correction", Data: []byte("not json")})

	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	if received[0].UserID != "carol" || received[0].Kind != events.KindBlacklist {
		t.Errorf("received = %+v", received[0])
	}

	ns.Close()
	if ns.IsConnected() {
		t.Error("service should be disconnected after Close")
	}
	if !conn.closed {
		t.Error("underlying connection should be closed")
	}
}
