// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package audit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/logging"
)

const (
	defaultBufferSize = 1000
	writeTimeout      = 5 * time.Second
	drainTimeout      = 10 * time.Second
)

// Logger records audit events asynchronously. Log never blocks the admin
// request; when the buffer is full the event is dropped and counted.
type Logger struct {
	store     Store
	retention time.Duration
	events    chan *Event
	dropped   atomic.Int64
	now       func() time.Time
}

// NewLogger creates a logger writing to store. It implements
// suture.Service; events are buffered until Serve runs.
func NewLogger(store Store, cfg config.AuditConfig) *Logger {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Logger{
		store:     store,
		retention: cfg.Retention,
		events:    make(chan *Event, size),
		now:       time.Now,
	}
}

// Log stamps e with an id and timestamp when missing and queues it.
func (l *Logger) Log(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	select {
	case l.events <- e:
	default:
		l.dropped.Add(1)
		logging.Warn().Str("event_id", e.ID).Str("type", string(e.Type)).Msg("audit buffer full, dropping event")
	}
}

// Dropped returns how many events were dropped because the buffer was full.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Serve writes queued events until ctx is canceled, then drains the
// buffer within a bounded time.
func (l *Logger) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return ctx.Err()
		case e := <-l.events:
			l.write(e)
		}
	}
}

func (l *Logger) String() string {
	return "audit-logger"
}

func (l *Logger) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case e := <-l.events:
			l.write(e)
		default:
			return
		}
	}
}

func (l *Logger) write(e *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := l.store.SaveAuditEvent(ctx, e); err != nil {
		logging.Error().Err(err).Str("event_id", e.ID).Str("type", string(e.Type)).Msg("failed to save audit event")
		return
	}
	logging.Info().
		Str("audit_type", string(e.Type)).
		Str("actor", e.Actor.ID).
		Str("target", e.Target.Type+":"+e.Target.ID).
		Str("outcome", string(e.Outcome)).
		Str("request_id", e.RequestID).
		Msg("audit")
}

// Query returns matching events newest first.
func (l *Logger) Query(ctx context.Context, f Filter) ([]Event, error) {
	return l.store.QueryAuditEvents(ctx, f)
}

// Cleanup deletes events older than the retention period. A zero
// retention keeps everything.
func (l *Logger) Cleanup(ctx context.Context) (int, error) {
	if l.retention <= 0 {
		return 0, nil
	}
	n, err := l.store.DeleteAuditEventsBefore(ctx, l.now().Add(-l.retention))
	return int(n), err
}

// Metadata marshals v for Event.Metadata. Values that cannot be encoded
// are dropped.
func Metadata(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
