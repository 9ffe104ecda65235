// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/incident"
)

func TestProtectedApp_NoUpstream(t *testing.T) {
	t.Parallel()

	h, err := protectedApp("")
	if err != nil {
		t.Fatalf("protectedApp() error = %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProtectedApp_ProxiesToUpstream(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Path", r.URL.Path)
		w.Header().Set("X-Seen-Forwarded", r.Header.Get("X-Forwarded-For"))
		_, _ = io.WriteString(w, "appointments")
	}))
	defer upstream.Close()

	h, err := protectedApp(upstream.URL)
	if err != nil {
		t.Fatalf("protectedApp() error = %v", err)
	}
	front := httptest.NewServer(h)
	defer front.Close()

	resp, err := http.Get(front.URL + "/api/appointments")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK || string(body) != "appointments" {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("X-Seen-Path"); got != "/api/appointments" {
		t.Errorf("upstream path = %q", got)
	}
	if resp.Header.Get("X-Seen-Forwarded") == "" {
		t.Error("X-Forwarded-For not set")
	}
}

func TestProtectedApp_UpstreamDown(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	h, err := protectedApp(url)
	if err != nil {
		t.Fatalf("protectedApp() error = %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage = config.StorageConfig{Driver: "sqlite3", Path: ":memory:"}
	cfg.State = config.StateConfig{Backend: "memory"}
	cfg.EventBus.Driver = "memory"
	cfg.Security.JWTSecret = "test-secret-with-enough-entropy-0123456789"
	cfg.Rules = config.DefaultRules()
	return cfg
}

func TestBuild_AdminAPI(t *testing.T) {
	t.Parallel()

	a, err := build(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer a.close()

	srv := httptest.NewServer(a.server.Handler)
	defer srv.Close()

	get := func(path, token string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get("/api/v1/health/ready", ""); code != http.StatusOK {
		t.Errorf("ready = %d, want 200", code)
	}
	if code := get("/api/v1/security/status", ""); code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", code)
	}

	token, err := a.tokens.GenerateToken("ops", "admin", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if code := get("/api/v1/security/status", token); code != http.StatusOK {
		t.Errorf("status with admin token = %d, want 200", code)
	}
	if code := get("/api/v1/security/rules", token); code != http.StatusOK {
		t.Errorf("rules with admin token = %d, want 200", code)
	}
	if code := get("/api/v1/security/audit", token); code != http.StatusOK {
		t.Errorf("audit with admin token = %d, want 200", code)
	}
	if code := get("/not-an-admin-route", ""); code != http.StatusNotFound {
		t.Errorf("protected fallback = %d, want 404", code)
	}
}

func TestBuild_WithoutSecretRejectsAdmin(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Security.JWTSecret = ""
	a, err := build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer a.close()

	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/security/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestBuild_RejectsUnknownStorageDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Storage.Driver = "postgres"
	if _, err := build(context.Background(), cfg); err == nil {
		t.Fatal("build() succeeded with an unsupported driver")
	}
}

func TestApplyReload(t *testing.T) {
	t.Parallel()

	a, err := build(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer a.close()

	next := testConfig()
	next.Threat.Thresholds.Block = 0.95
	next.Rules = next.Rules[:1]
	if err := a.applyReload(next); err != nil {
		t.Fatalf("applyReload() error = %v", err)
	}
	if got := a.analyzer.Decider().Decide(0.9).Action; got == "BLOCK" {
		t.Errorf("Decide(0.9) = BLOCK after raising the block threshold")
	}
	if got := a.engine.Rules().Len(); got != 1 {
		t.Errorf("rules after reload = %d, want 1", got)
	}

	bad := testConfig()
	clash := bad.Rules[0]
	clash.Name = "clashing-priority"
	bad.Rules = append(bad.Rules, clash)
	err = a.applyReload(bad)
	if err == nil {
		t.Fatal("applyReload() accepted a duplicate priority")
	}
	var dup *incident.DuplicatePriorityError
	if !errors.As(err, &dup) && !errors.Is(err, incident.ErrDuplicatePriority) {
		t.Errorf("applyReload() error = %v, want duplicate priority", err)
	}
	if got := a.engine.Rules().Len(); got != 1 {
		t.Errorf("rules after rejected reload = %d, want 1", got)
	}

	// Serving with a canceled context drains the queued reload entry.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = a.auditor.Serve(ctx)
	events, err := a.auditor.Query(context.Background(), audit.Filter{Types: []audit.EventType{audit.EventConfigReloaded}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 1 || events[0].Actor != audit.ActorSystem {
		t.Errorf("reload audit entries = %+v, want one system entry", events)
	}
}
