// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

// Drivers.
const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("eventbus: bus is closed")

// metadataEventType carries the event type so consumers can filter
// without decoding the payload.
const metadataEventType = "event_type"

// Event is the envelope of every message on the bus. It is also the frame
// pushed to websocket clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"-"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bus publishes and consumes events over Watermill. The memory driver is a
// GoChannel pub/sub for single-instance deployments; the nats driver uses
// JetStream so every instance sees every event.
type Bus struct {
	driver     string
	publisher  message.Publisher
	subscriber message.Subscriber
	shared     bool
	breaker    *gobreaker.CircuitBreaker[struct{}]
	server     *EmbeddedServer
	logger     watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New builds the bus selected by cfg.Driver.
func New(ctx context.Context, cfg config.EventBusConfig) (*Bus, error) {
	logger := logging.NewWatermillLogger()
	switch cfg.Driver {
	case "", DriverMemory:
		return newMemoryBus(logger), nil
	case DriverNATS:
		return newNATSBus(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported event bus driver %q", cfg.Driver)
	}
}

// NewMemory returns a GoChannel bus.
func NewMemory() *Bus {
	return newMemoryBus(logging.NewWatermillLogger())
}

func newMemoryBus(logger watermill.LoggerAdapter) *Bus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
	return &Bus{
		driver:     DriverMemory,
		publisher:  pubsub,
		subscriber: pubsub,
		shared:     true,
		breaker:    newPublishBreaker(),
		logger:     logger,
	}
}

func newPublishBreaker() *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "eventbus_publish",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("event bus circuit breaker changed state")
		},
	})
}

// Driver returns the active driver name.
func (b *Bus) Driver() string {
	return b.driver
}

// Publish wraps payload in an Event and publishes it on topic.
func (b *Bus) Publish(ctx context.Context, topic, eventType string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	body, err := json.Marshal(Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set(metadataEventType, eventType)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}
	msg.SetContext(ctx)

	_, err = b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.publisher.Publish(topic, msg)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		metrics.EventsPublished.WithLabelValues(topic, result).Inc()
		metrics.CircuitBreakerRequests.WithLabelValues("eventbus_publish", result).Inc()
		return fmt.Errorf("publish %s to %s: %w", eventType, topic, err)
	}
	metrics.EventsPublished.WithLabelValues(topic, "success").Inc()
	metrics.CircuitBreakerRequests.WithLabelValues("eventbus_publish", "success").Inc()
	return nil
}

// Subscribe returns the raw message channel for topic. It is closed when
// ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	return b.subscriber.Subscribe(ctx, topic)
}

// Decode unwraps an Event from a bus message.
func Decode(topic string, msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	ev.Topic = topic
	if ev.Type == "" {
		ev.Type = msg.Metadata.Get(metadataEventType)
	}
	return ev, nil
}

// HandlerFunc processes one decoded event. Returning an error nacks the
// message.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle consumes topic until ctx is done or the subscription closes.
// Undecodable messages are acked and dropped.
//
//	go bus.Handle(ctx, eventbus.TopicIncidents, func(ctx context.Context, ev eventbus.Event) error {
//	    hub.Broadcast(ev)
//	    return nil
//	})
func (b *Bus) Handle(ctx context.Context, topic string, fn HandlerFunc) error {
	messages, err := b.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.process(ctx, topic, msg, fn)
		}
	}
}

func (b *Bus) process(ctx context.Context, topic string, msg *message.Message, fn HandlerFunc) {
	ev, err := Decode(topic, msg)
	if err != nil {
		b.logger.Error("Dropping undecodable event", err, watermill.LogFields{"topic": topic})
		msg.Ack()
		return
	}
	if err := fn(ctx, ev); err != nil {
		b.logger.Error("Event handler failed", err, watermill.LogFields{
			"message_uuid": msg.UUID,
			"topic":        topic,
			"event_type":   ev.Type,
		})
		msg.Nack()
		return
	}
	msg.Ack()
}

// Close shuts down the publisher, the subscriber and, when running, the
// embedded NATS server.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	if err := b.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if !b.shared {
		if err := b.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown embedded nats: %w", err))
		}
	}
	return errors.Join(errs...)
}
