// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestCtxAddsContextFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithCorrelationID(ctx, "corr-1")
	ctx = ContextWithIncidentID(ctx, "inc-1")

	Ctx(ctx).Info().Msg("handled")

	out := buf.String()
	for _, want := range []string{`"request_id":"req-1"`, `"correlation_id":"corr-1"`, `"incident_id":"inc-1"`, "handled"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestContextAccessorsEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if RequestIDFromContext(ctx) != "" || CorrelationIDFromContext(ctx) != "" || IncidentIDFromContext(ctx) != "" {
		t.Error("expected empty ids from bare context")
	}
	if len(GenerateRequestID()) != 36 {
		t.Error("expected UUID request id")
	}
	if len(GenerateCorrelationID()) != 8 {
		t.Error("expected 8-character correlation id")
	}
}

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))
	logger.WithGroup("svc").Info("service restarted", "name", "scheduler", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, `"svc.name":"scheduler"`) {
		t.Errorf("expected grouped attribute, got: %s", out)
	}
	if !strings.Contains(out, `"svc.attempt":2`) {
		t.Errorf("expected int attribute, got: %s", out)
	}
}

func TestSlogHandlerAttrsKeepTheirGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))
	logger.With("tree", "aegis").WithGroup("svc").Warn("backoff", "name", "event-bus", "err", errors.New("nats down"))

	out := buf.String()
	for _, want := range []string{`"tree":"aegis"`, `"svc.name":"event-bus"`, `"svc.err":"nats down"`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestWatermillLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	wl := NewWatermillLoggerWithLogger(NewTestLogger(&buf)).With(watermill.LogFields{"topic": "security.incidents"})
	wl.Error("publish failed", errors.New("nats down"), watermill.LogFields{"attempt": 1})

	out := buf.String()
	for _, want := range []string{`"topic":"security.incidents"`, `"error":"nats down"`, `"attempt":1`, "publish failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got: %s", want, out)
		}
	}
}

func TestSanitizers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"short token", SanitizeToken("abc"), "***"},
		{"long token", SanitizeToken("eyJhbGciOiJIUzI1NiJ9.payload"), "eyJh...load"},
		{"email", SanitizeEmail("john.doe@example.com"), "jo***@example.com"},
		{"bad email", SanitizeEmail("nobody"), "***"},
		{"slack hook", SanitizeURL("https://hooks.slack.com/services/T0/B0/secret"), "https://hooks.slack.com/..."},
		{"userinfo", SanitizeURL("https://user:pw@example.com/hook?token=x"), "https://example.com/..."},
		{"bare host", SanitizeURL("https://example.com"), "https://example.com"},
		{"no scheme", SanitizeURL("example.com/x"), "***"},
		{"truncate", Truncate("abcdef", 3), "abc..."},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
