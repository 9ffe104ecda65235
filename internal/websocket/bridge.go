// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/logging"
)

// EventSource is the consuming side of the event bus.
type EventSource interface {
	Handle(ctx context.Context, topic string, fn eventbus.HandlerFunc) error
}

// Bridge forwards every bus topic to the hub.
type Bridge struct {
	hub    *Hub
	source EventSource
	topics []string
}

// NewBridge creates a bridge for eventbus.Topics.
func NewBridge(hub *Hub, source EventSource) *Bridge {
	return &Bridge{hub: hub, source: source, topics: eventbus.Topics}
}

// Serve implements suture.Service. It returns when ctx is cancelled or
// any topic subscription fails, so the supervisor restarts all of them.
func (b *Bridge) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, topic := range b.topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			err := b.source.Handle(ctx, topic, func(_ context.Context, ev eventbus.Event) error {
				b.hub.BroadcastEvent(ev)
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				once.Do(func() {
					firstErr = fmt.Errorf("bridge %s: %w", topic, err)
					cancel()
				})
			}
		}(topic)
	}
	logging.Info().Strs("topics", b.topics).Msg("event bus to websocket bridge started")
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (b *Bridge) String() string {
	return "websocket-bridge"
}
