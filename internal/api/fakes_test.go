// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/aegis/internal/alerting"
	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/auth"
	"github.com/tomtom215/aegis/internal/authz"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/profile"
	"github.com/tomtom215/aegis/internal/response"
	"github.com/tomtom215/aegis/internal/storage"
)

type fakeThreatLog struct {
	mu        sync.Mutex
	records   []storage.ThreatLogRecord
	stats     storage.ThreatStats
	err       error
	lastQuery storage.ThreatLogFilter
}

func (f *fakeThreatLog) QueryThreatLogs(_ context.Context, q storage.ThreatLogFilter) ([]storage.ThreatLogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	end := min(q.Limit, len(f.records))
	return f.records[:end], nil
}

func (f *fakeThreatLog) query() storage.ThreatLogFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *fakeThreatLog) ThreatStats(_ context.Context, since time.Time) (storage.ThreatStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.stats
	s.Since = since
	return s, f.err
}

type fakeIncidentLog struct {
	mu       sync.Mutex
	listed   []*incident.Incident
	created  []*incident.Incident
	counts   storage.IncidentCounts
	lastList storage.IncidentFilter
}

func (f *fakeIncidentLog) ListIncidents(_ context.Context, q storage.IncidentFilter) ([]*incident.Incident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = q
	return f.listed, nil
}

func (f *fakeIncidentLog) CountIncidents(context.Context, time.Time) (storage.IncidentCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, nil
}

func (f *fakeIncidentLog) filter() storage.IncidentFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastList
}

func (f *fakeIncidentLog) createdIncidents() []*incident.Incident {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*incident.Incident(nil), f.created...)
}

func (f *fakeIncidentLog) CreateIncident(_ context.Context, inc *incident.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, inc.Clone())
	return nil
}

type fakeAlertLog struct {
	alerts []*alerting.Alert
}

func (f *fakeAlertLog) ListAlerts(context.Context, storage.AlertFilter) ([]*alerting.Alert, error) {
	return f.alerts, nil
}

type fakeAlerter struct {
	mu         sync.Mutex
	dispatched []*incident.Incident
	report     alerting.RequeueReport
}

func (f *fakeAlerter) Channels() []string { return []string{"email", "webhook"} }

func (f *fakeAlerter) DispatchIncident(_ context.Context, inc *incident.Incident) []alerting.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, inc)
	return []alerting.Alert{
		{IncidentID: inc.ID, Channel: "email", Status: alerting.StatusFailed},
		{IncidentID: inc.ID, Channel: "webhook", Status: alerting.StatusSent},
	}
}

func (f *fakeAlerter) RequeueFailed(context.Context) (alerting.RequeueReport, error) {
	return f.report, nil
}

type fakeProfiles struct {
	snapshots []profile.Snapshot
}

func (f *fakeProfiles) Range(fn func(profile.Snapshot) bool) {
	for _, s := range f.snapshots {
		if !fn(s) {
			return
		}
	}
}

func (f *fakeProfiles) Len() int { return len(f.snapshots) }

type fakeAuthFailures struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *fakeAuthFailures) RecordFailure(ip string, n int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[ip] += n
	return f.counts[ip]
}

type fakeEnforcement struct {
	blocked   map[string]bool
	suspended map[string]bool
}

func (f *fakeEnforcement) Blocks(context.Context) ([]response.Entry, error) {
	var out []response.Entry
	for ip := range f.blocked {
		out = append(out, response.Entry{Key: response.PrefixBlockedIP + ip, Subject: ip})
	}
	return out, nil
}

func (f *fakeEnforcement) Unblock(_ context.Context, ip string) (bool, error) {
	ok := f.blocked[ip]
	delete(f.blocked, ip)
	return ok, nil
}

func (f *fakeEnforcement) Reinstate(_ context.Context, userID string) (bool, error) {
	ok := f.suspended[userID]
	delete(f.suspended, userID)
	return ok, nil
}

type fakeRealtime struct{}

func (fakeRealtime) RealtimeMetrics(context.Context) (any, error) {
	return map[string]int{"requestsPerMinute": 42}, nil
}

// syncAudit writes audit events straight to a memory store.
type syncAudit struct {
	store *audit.MemoryStore
}

func (a *syncAudit) Log(e *audit.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_ = a.store.SaveAuditEvent(context.Background(), e)
}

func (a *syncAudit) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	return a.store.QueryAuditEvents(ctx, f)
}

// testEnv is a fully wired admin API over fakes, a real incident engine and
// the embedded casbin policy.
type testEnv struct {
	server      *httptest.Server
	tokens      *auth.TokenManager
	threats     *fakeThreatLog
	incidents   *fakeIncidentLog
	alerter     *fakeAlerter
	authFails   *fakeAuthFailures
	enforcement *fakeEnforcement
	engine      *incident.Engine
	store       *incident.MemoryStore
	audit       *syncAudit
}

type noopExecutor struct{}

func (noopExecutor) Execute(context.Context, incident.ActionName, *incident.Incident) incident.ActionResult {
	return incident.ActionResult{Success: true}
}

func newTestEnv(t *testing.T, deps Deps) *testEnv {
	t.Helper()

	sec := config.SecurityConfig{JWTSecret: "test-secret-at-least-32-bytes-long!!", JWTIssuer: "aegis-test", RateLimitDisabled: true}
	tokens, err := auth.NewTokenManager(sec)
	if err != nil {
		t.Fatalf("NewTokenManager() error = %v", err)
	}
	enforcer, err := authz.NewEnforcer(config.CasbinConfig{})
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}

	rules, err := incident.NewRuleSet([]incident.Rule{
		{Name: "critical", Priority: 1, Enabled: true, Conditions: incident.Conditions{Severity: "CRITICAL"}, Actions: []incident.ActionName{incident.ActionBlockIP}},
	})
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}
	store := incident.NewMemoryStore()
	engine := incident.NewEngine(rules, store, noopExecutor{})

	env := &testEnv{
		tokens:      tokens,
		threats:     &fakeThreatLog{},
		incidents:   &fakeIncidentLog{},
		alerter:     &fakeAlerter{},
		authFails:   &fakeAuthFailures{},
		enforcement: &fakeEnforcement{blocked: map[string]bool{"203.0.113.9": true}, suspended: map[string]bool{"u-1": true}},
		engine:      engine,
		store:       store,
		audit:       &syncAudit{store: audit.NewMemoryStore()},
	}
	if deps.Threats == nil {
		deps.Threats = env.threats
	}
	if deps.Incidents == nil {
		deps.Incidents = env.incidents
	}
	if deps.Alerts == nil {
		deps.Alerts = &fakeAlertLog{}
	}
	if deps.Engine == nil {
		deps.Engine = engine
	}
	if deps.Alerter == nil {
		deps.Alerter = env.alerter
	}
	if deps.Profiles == nil {
		deps.Profiles = &fakeProfiles{}
	}
	if deps.AuthFailures == nil {
		deps.AuthFailures = env.authFails
	}
	if deps.Enforcement == nil {
		deps.Enforcement = env.enforcement
	}
	if deps.Realtime == nil {
		deps.Realtime = fakeRealtime{}
	}
	if deps.Audit == nil {
		deps.Audit = env.audit
	}

	router := NewRouter(NewHandler(deps), auth.NewMiddleware(tokens), authz.NewMiddleware(enforcer),
		NewChiMiddleware(ChiMiddlewareConfigFrom(sec)))
	env.server = httptest.NewServer(router.Setup())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := e.tokens.GenerateToken(subject, role, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

// do sends a request as role and decodes the envelope.
func (e *testEnv) do(t *testing.T, method, path, role, body string) (*http.Response, APIResponse) {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, "user-"+role, role))
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	var envelope APIResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp, envelope
}

// dataAs re-decodes the envelope data into v.
func dataAs(t *testing.T, envelope APIResponse, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

// allowAll authenticates and authorizes every request.
type allowAll struct{}

func (allowAll) Authenticate(next http.Handler) http.Handler { return next }

func (allowAll) Authorize(string, string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return next }
}
