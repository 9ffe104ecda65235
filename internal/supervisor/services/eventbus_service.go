// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package services

import (
	"context"

	"github.com/tomtom215/aegis/internal/logging"
)

// Closer is satisfied by *eventbus.Bus. Close releases the publisher, the
// subscriber and the embedded NATS server when one was started.
type Closer interface {
	Close() error
}

// EventBusService ties the event bus lifetime to the supervisor tree. The
// bus is created eagerly in main so that publishers can be wired before the
// tree starts; this service only owns its shutdown.
type EventBusService struct {
	bus  Closer
	name string
}

// NewEventBusService wraps bus.
func NewEventBusService(bus Closer) *EventBusService {
	return &EventBusService{bus: bus, name: "event-bus"}
}

// Serve blocks until ctx is canceled and then closes the bus.
func (s *EventBusService) Serve(ctx context.Context) error {
	<-ctx.Done()
	if err := s.bus.Close(); err != nil {
		logging.Warn().Err(err).Msg("event bus close failed")
	}
	return ctx.Err()
}

func (s *EventBusService) String() string {
	return s.name
}
