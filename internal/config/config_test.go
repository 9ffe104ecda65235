// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := Defaults()
	cfg.Rules = DefaultRules()
	return cfg
}

func TestDefaultsValidate(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

func TestDefaultRulesHaveUniquePriorities(t *testing.T) {
	t.Parallel()

	seen := map[int]bool{}
	for _, r := range DefaultRules() {
		if seen[r.Priority] {
			t.Errorf("priority %d used twice", r.Priority)
		}
		seen[r.Priority] = true
	}
}

func TestValidate_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"relative upstream", func(c *Config) { c.Server.UpstreamURL = "/app" }, "UPSTREAM_URL"},
		{"upstream without host", func(c *Config) { c.Server.UpstreamURL = "http://" }, "UPSTREAM_URL"},
		{"bad storage driver", func(c *Config) { c.Storage.Driver = "postgres" }, "STORAGE_DRIVER"},
		{"badger without path", func(c *Config) { c.State.Backend = "badger"; c.State.Path = "" }, "STATE_PATH"},
		{"weight above one", func(c *Config) { c.Threat.Weights.Pattern = 1.5 }, "threat.weights.pattern"},
		{"thresholds not ascending", func(c *Config) { c.Threat.Thresholds.Monitor = 0.95 }, "strictly ascending"},
		{"thresholds equal", func(c *Config) { c.Threat.Thresholds.Challenge = c.Threat.Thresholds.Block }, "strictly ascending"},
		{"frequency inverted", func(c *Config) { c.Detectors.Frequency.Critical = 50 }, "suspicious < critical"},
		{"temporal hour", func(c *Config) { c.Detectors.Temporal.EndHour = 24 }, "[0,23]"},
		{"temporal zone", func(c *Config) { c.Detectors.Temporal.Timezone = "Mars/Olympus" }, "TEMPORAL_TIMEZONE"},
		{"negative audit retention", func(c *Config) { c.Audit.Retention = -time.Hour }, "AUDIT_RETENTION"},
		{"audit without buffer", func(c *Config) { c.Audit.BufferSize = 0 }, "AUDIT_BUFFER_SIZE"},
		{"unknown rule action", func(c *Config) { c.Rules[0].Actions = []string{"LAUNCH_MISSILES"} }, "unknown action"},
		{"rule empty range", func(c *Config) {
			lo, hi := 0.9, 0.1
			c.Rules[0].Conditions.MinScore, c.Rules[0].Conditions.MaxScore = &lo, &hi
		}, "empty score range"},
		{"email missing host", func(c *Config) { c.Alerts.Email.Enabled = true }, "SMTP_HOST"},
		{"webhook bad url", func(c *Config) {
			c.Alerts.Webhook.Enabled = true
			c.Alerts.Webhook.Endpoints = []string{"ftp://example.com"}
		}, "scheme"},
		{"nats without durable", func(c *Config) {
			c.EventBus.Driver = "nats"
			c.EventBus.EmbeddedServer = true
			c.EventBus.DurablePrefix = ""
		}, "durable_prefix"},
		{"nats bad url", func(c *Config) { c.EventBus.Driver = "nats"; c.EventBus.URL = "http://x" }, "NATS_URL"},
		{"bad cron", func(c *Config) { c.Scheduler.DigestCron = "every hour" }, "SCHEDULE_DIGEST_CRON"},
		{"production without secret", func(c *Config) { c.Server.Environment = "production" }, "JWT_SECRET"},
		{"trusted proxy garbage", func(c *Config) { c.Security.TrustedProxies = []string{"not-an-ip"} }, "TRUSTED_PROXIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateRules_DuplicatePriority(t *testing.T) {
	t.Parallel()

	rules := DefaultRules()
	rules[4].Priority = rules[0].Priority

	err := ValidateRules(rules)
	if !errors.Is(err, ErrDuplicateRulePriority) {
		t.Fatalf("expected ErrDuplicateRulePriority, got %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"HTTP_PORT":             "server.port",
		"THREAT_WEIGHT_PATTERN": "threat.weights.pattern",
		"SLACK_WEBHOOK_URL":     "alerts.slack.webhook_url",
		"DUCKDB_PATH":           "storage.path",
		"PATH":                  "",
		"HOME":                  "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadFile_YAMLAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
threat:
  weights:
    pattern: 0.5
detectors:
  frequency:
    suspicious: 50
    critical: 200
rules:
  - name: Block everything critical
    priority: 10
    conditions:
      severity: CRITICAL
    actions: [BLOCK_IP]
  - name: Watch geography
    priority: 20
    conditions:
      incident_type: GEOGRAPHIC_ANOMALY
      min_distance_km: 500
    actions: [FORCE_MFA, NOTIFY_ADMIN]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ALERT_WEBHOOK_ENDPOINTS", "https://a.example.com/hook, https://b.example.com/hook")
	t.Setenv("ALERT_WEBHOOK_HEADERS", "Authorization=Bearer abc=,X-Team=sec")
	t.Setenv("DETECTOR_TIMEOUT", "75ms")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected env port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Threat.Weights.Pattern != 0.5 || cfg.Threat.Weights.Behavioral != 0.25 {
		t.Errorf("expected file weight with default fallback, got %+v", cfg.Threat.Weights)
	}
	if cfg.Detectors.Frequency.Suspicious != 50 || cfg.Detectors.Frequency.Window != time.Minute {
		t.Errorf("unexpected frequency config %+v", cfg.Detectors.Frequency)
	}
	if cfg.Detectors.Timeout != 75*time.Millisecond {
		t.Errorf("expected 75ms detector timeout, got %v", cfg.Detectors.Timeout)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[1].Conditions.MinDistanceKm == nil || *cfg.Rules[1].Conditions.MinDistanceKm != 500 {
		t.Errorf("expected rules from file, got %+v", cfg.Rules)
	}
	if got := cfg.Alerts.Webhook.Endpoints; len(got) != 2 || got[1] != "https://b.example.com/hook" {
		t.Errorf("expected two endpoints, got %v", got)
	}
	if got := cfg.Alerts.Webhook.Headers["Authorization"]; got != "Bearer abc=" {
		t.Errorf("expected header value split on first '=', got %q", got)
	}
	if cfg.SourcePath != path {
		t.Errorf("expected source path %q, got %q", path, cfg.SourcePath)
	}
}

func TestLoadFile_DefaultRulesWhenNoneConfigured(t *testing.T) {
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(cfg.Rules) != len(DefaultRules()) {
		t.Errorf("expected default rule table, got %d rules", len(cfg.Rules))
	}
}

func TestLoadFile_RejectsDuplicatePriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
rules:
  - name: a
    priority: 1
    actions: [BLOCK_IP]
  - name: b
    priority: 1
    actions: [FORCE_MFA]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFile(path)
	if !errors.Is(err, ErrDuplicateRulePriority) {
		t.Fatalf("expected duplicate priority failure, got %v", err)
	}
}

func TestTemporalLocation(t *testing.T) {
	t.Parallel()

	if loc := (TemporalConfig{}).Location(); loc != time.UTC {
		t.Errorf("expected UTC for empty zone, got %v", loc)
	}
	if loc := (TemporalConfig{Timezone: "America/New_York"}).Location(); loc.String() != "America/New_York" {
		t.Errorf("expected New York zone, got %v", loc)
	}
}
