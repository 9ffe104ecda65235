// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/aegis/internal/config"
)

type scoredPayload struct {
	IP    string  `json:"ip"`
	Score float64 `json:"score"`
}

func receive(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryBus_PublishHandle(t *testing.T) {
	t.Parallel()
	bus := NewMemory()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 1)
	ready := make(chan struct{})
	go func() {
		msgs, err := bus.Subscribe(ctx, TopicThreats)
		if err != nil {
			t.Errorf("Subscribe: %v", err)
			return
		}
		close(ready)
		for msg := range msgs {
			bus.process(ctx, TopicThreats, msg, func(_ context.Context, ev Event) error {
				events <- ev
				return nil
			})
		}
	}()
	<-ready

	if err := bus.Publish(ctx, TopicThreats, EventThreatScored, scoredPayload{IP: "10.0.0.1", Score: 0.42}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ev := receive(t, events)
	if ev.Type != EventThreatScored || ev.Topic != TopicThreats {
		t.Errorf("event = %s on %s", ev.Type, ev.Topic)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	var got scoredPayload
	if err := json.Unmarshal(ev.Data, &got); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if got.IP != "10.0.0.1" || got.Score != 0.42 {
		t.Errorf("payload = %+v", got)
	}
}

func TestMemoryBus_HandlerErrorRedelivers(t *testing.T) {
	t.Parallel()
	bus := NewMemory()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 4)
	go func() {
		attempt := 0
		_ = bus.Handle(ctx, TopicIncidents, func(context.Context, Event) error {
			attempt++
			calls <- struct{}{}
			if attempt == 1 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	// Handle subscribes asynchronously; retry the publish until it lands.
	deadline := time.After(5 * time.Second)
	for delivered := 0; delivered < 2; {
		if delivered == 0 {
			_ = bus.Publish(ctx, TopicIncidents, EventSecurityIncident, map[string]string{"id": "inc-1"})
		}
		select {
		case <-calls:
			delivered++
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatalf("handler called %d times, want 2", delivered)
		}
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	t.Parallel()
	bus := NewMemory()
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	err := bus.Publish(context.Background(), TopicAlerts, EventSecurityAlert, nil)
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish after close err = %v, want ErrBusClosed", err)
	}
	if _, err := bus.Subscribe(context.Background(), TopicAlerts); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Subscribe after close err = %v, want ErrBusClosed", err)
	}
}

func TestNew_Drivers(t *testing.T) {
	t.Parallel()
	bus, err := New(context.Background(), config.EventBusConfig{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer bus.Close()
	if bus.Driver() != DriverMemory {
		t.Errorf("Driver() = %s, want memory", bus.Driver())
	}

	if _, err := New(context.Background(), config.EventBusConfig{Driver: "kafka"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestChannelForTopic(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		TopicThreats:   "threats",
		TopicIncidents: "incidents",
		TopicAlerts:    "alerts",
		TopicMetrics:   "metrics",
		"other":        "",
	}
	for topic, want := range tests {
		if got := ChannelForTopic(topic); got != want {
			t.Errorf("ChannelForTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}

func TestNATSBus_EmbeddedServerRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}
	t.Parallel()

	tests := []struct {
		name    string
		durable string
	}{
		{"configured durable", "aegis-test"},
		{"default durable", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			bus, err := New(ctx, config.EventBusConfig{
				Driver:         DriverNATS,
				EmbeddedServer: true,
				StoreDir:       t.TempDir(),
				AckWaitTimeout: 5 * time.Second,
				QueueGroup:     "aegis-test",
				DurablePrefix:  tt.durable,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer bus.Close()
			if bus.server == nil || !bus.server.Running() {
				t.Fatal("embedded server not running")
			}

			events := make(chan Event, 1)
			handleErr := make(chan error, 1)
			go func() {
				handleErr <- bus.Handle(ctx, TopicAlerts, func(_ context.Context, ev Event) error {
					select {
					case events <- ev:
					default:
					}
					return nil
				})
			}()

			// The consumer delivers new messages only; publish until one arrives.
			for {
				if err := bus.Publish(ctx, TopicAlerts, EventSecurityAlert, map[string]string{"channel": "webhook"}); err != nil {
					t.Fatalf("Publish: %v", err)
				}
				select {
				case ev := <-events:
					if ev.Type != EventSecurityAlert {
						t.Errorf("type = %s", ev.Type)
					}
					return
				case err := <-handleErr:
					t.Fatalf("Handle: %v", err)
				case <-time.After(200 * time.Millisecond):
				case <-ctx.Done():
					t.Fatal("no event received from JetStream")
				}
			}
		})
	}
}
