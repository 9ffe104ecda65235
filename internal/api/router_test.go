// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/storage"
	"github.com/tomtom215/aegis/internal/threat"
)

func TestRouter_Authorization(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	tests := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/security/status", "", http.StatusUnauthorized},
		{"viewer reads status", http.MethodGet, "/api/v1/security/status", "viewer", http.StatusOK},
		{"viewer reads realtime", http.MethodGet, "/api/v1/security/realtime", "viewer", http.StatusOK},
		{"viewer cannot read threats", http.MethodGet, "/api/v1/security/threats", "viewer", http.StatusForbidden},
		{"analyst reads threats", http.MethodGet, "/api/v1/security/threats", "analyst", http.StatusOK},
		{"analyst inherits viewer", http.MethodGet, "/api/v1/security/status", "analyst", http.StatusOK},
		{"analyst cannot read rules", http.MethodGet, "/api/v1/security/rules", "analyst", http.StatusForbidden},
		{"analyst cannot retry alerts", http.MethodPost, "/api/v1/security/alerts/retry", "analyst", http.StatusForbidden},
		{"admin reads rules", http.MethodGet, "/api/v1/security/rules", "admin", http.StatusOK},
		{"admin retries alerts", http.MethodPost, "/api/v1/security/alerts/retry", "admin", http.StatusOK},
		{"analyst cannot read audit", http.MethodGet, "/api/v1/security/audit", "analyst", http.StatusForbidden},
		{"admin reads audit", http.MethodGet, "/api/v1/security/audit", "admin", http.StatusOK},
		{"unknown role", http.MethodGet, "/api/v1/security/status", "intern", http.StatusForbidden},
		{"health is public", http.MethodGet, "/api/v1/health/live", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, _ := env.do(t, tt.method, tt.path, tt.role, "")
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s as %q = %d, want %d", tt.method, tt.path, tt.role, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRouter_SecurityHeadersAndRequestID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/status", "viewer", "")
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	id := resp.Header.Get("X-Request-ID")
	if id == "" {
		t.Fatal("X-Request-ID header missing")
	}
	if envelope.Meta == nil || envelope.Meta.RequestID != id {
		t.Errorf("meta request id = %+v, want %q", envelope.Meta, id)
	}
}

func TestRouter_Metrics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("metrics output missing go runtime collectors")
	}
}

func TestRouter_ProtectedFallback(t *testing.T) {
	t.Parallel()

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router := NewRouter(NewHandler(Deps{}), allowAll{}, allowAll{}, nil, WithProtectedApp(app))
	srv := httptest.NewServer(router.Setup())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/clients")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTeapot)
	}
}

func TestHealthReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		checks []HealthCheck
		want   int
	}{
		{"no checks", nil, http.StatusOK},
		{"all pass", []HealthCheck{{Name: "database", Check: func(context.Context) error { return nil }}}, http.StatusOK},
		{"one fails", []HealthCheck{
			{Name: "database", Check: func(context.Context) error { return nil }},
			{Name: "state", Check: func(context.Context) error { return errors.New("closed") }},
		}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandler(Deps{HealthChecks: tt.checks})
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHandler_DisabledFeatures(t *testing.T) {
	t.Parallel()

	h := NewHandler(Deps{})
	handlers := map[string]http.HandlerFunc{
		"realtime":   h.Realtime,
		"statistics": h.Statistics,
		"threats":    h.Threats,
		"incidents":  h.Incidents,
		"alerts":     h.Alerts,
		"profiles":   h.Profiles,
		"blocks":     h.Blocks,
		"rules":      h.Rules,
		"audit":      h.AuditEvents,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			fn(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", rec.Code)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{Version: "1.2.3"})

	_, envelope := env.do(t, http.MethodGet, "/api/v1/security/status", "viewer", "")
	var status StatusResponse
	dataAs(t, envelope, &status)

	if status.Version != "1.2.3" || status.Status != "active" {
		t.Errorf("status = %+v", status)
	}
	if len(status.Channels) != 2 {
		t.Errorf("channels = %v, want email and webhook", status.Channels)
	}
	if status.Components["alerting"] != "active" {
		t.Errorf("components = %v", status.Components)
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})
	env.threats.mu.Lock()
	env.threats.stats = storage.ThreatStats{Total: 12, AverageScore: 0.4}
	env.threats.mu.Unlock()
	env.incidents.mu.Lock()
	env.incidents.counts = storage.IncidentCounts{Total: 3, Open: 1}
	env.incidents.mu.Unlock()

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/statistics?hours=6", "viewer", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats StatisticsResponse
	dataAs(t, envelope, &stats)
	if stats.Period != "6 hours" || stats.Threats.Total != 12 || stats.Incidents.Open != 1 {
		t.Errorf("statistics = %+v", stats)
	}
	if d := time.Since(stats.Since); d < 6*time.Hour-time.Minute || d > 6*time.Hour+time.Minute {
		t.Errorf("since is %v ago, want ~6h", d)
	}

	for _, q := range []string{"hours=0", "hours=abc", "hours=100000"} {
		resp, _ := env.do(t, http.MethodGet, "/api/v1/security/statistics?"+q, "viewer", "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestThreats_PaginationAndFilters(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})
	env.threats.mu.Lock()
	for _, id := range []string{"a", "b", "c"} {
		env.threats.records = append(env.threats.records, storage.ThreatLogRecord{ID: id, Action: "BLOCK"})
	}
	env.threats.mu.Unlock()

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/threats?limit=2&severity=high&action=BLOCK&ip=203.0.113.5", "analyst", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	page := envelope.Meta.Pagination
	if page == nil || page.Count != 2 || !page.HasMore || page.Limit != 2 {
		t.Errorf("pagination = %+v, want count 2 with more", page)
	}
	q := env.threats.query()
	if q.Limit != 3 {
		t.Errorf("storage limit = %d, want limit+1", q.Limit)
	}
	if len(q.Severities) != 1 || q.Severities[0] != "HIGH" {
		t.Errorf("severities = %v", q.Severities)
	}
	if len(q.Actions) != 1 || q.Actions[0] != "BLOCK" || q.IP != "203.0.113.5" {
		t.Errorf("filter = %+v", q)
	}

	tests := []struct {
		query    string
		wantCode string
	}{
		{"limit=x", ErrCodeBadRequest},
		{"limit=0", ErrCodeValidationFailed},
		{"limit=501", ErrCodeValidationFailed},
		{"severity=SEVERE", ErrCodeValidationFailed},
		{"action=DENY", ErrCodeValidationFailed},
		{"ip=nope", ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/threats?"+tt.query, "analyst", "")
		if resp.StatusCode != http.StatusBadRequest || envelope.Error == nil || envelope.Error.Code != tt.wantCode {
			t.Errorf("%s: status %d error %+v, want 400 %s", tt.query, resp.StatusCode, envelope.Error, tt.wantCode)
		}
	}
}

func TestThreats_StorageError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})
	env.threats.mu.Lock()
	env.threats.err = errors.New("disk full")
	env.threats.mu.Unlock()

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/threats", "analyst", "")
	if resp.StatusCode != http.StatusInternalServerError || envelope.Error.Code != ErrCodeDatabaseError {
		t.Fatalf("status %d error %+v", resp.StatusCode, envelope.Error)
	}
	if strings.Contains(envelope.Error.Message, "disk full") {
		t.Error("storage error leaked to client")
	}
}

func TestResolveIncident(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	inc := &incident.Incident{ID: "inc-1", Type: incident.TypeThreatScore, Severity: threat.SeverityHigh, Status: incident.StatusActionsTaken}
	if err := env.store.CreateIncident(context.Background(), inc); err != nil {
		t.Fatalf("CreateIncident() error = %v", err)
	}

	steps := []struct {
		name string
		path string
		body string
		want int
	}{
		{"notes required", "/api/v1/security/incidents/inc-1/resolve", `{}`, http.StatusBadRequest},
		{"malformed body", "/api/v1/security/incidents/inc-1/resolve", `{"resolutionNotes":`, http.StatusBadRequest},
		{"unknown incident", "/api/v1/security/incidents/nope/resolve", `{"resolutionNotes":"done"}`, http.StatusNotFound},
		{"resolves", "/api/v1/security/incidents/inc-1/resolve", `{"resolutionNotes":"false positive"}`, http.StatusOK},
		{"second resolve conflicts", "/api/v1/security/incidents/inc-1/resolve", `{"resolutionNotes":"again"}`, http.StatusConflict},
	}
	for _, st := range steps {
		resp, _ := env.do(t, http.MethodPut, st.path, "analyst", st.body)
		if resp.StatusCode != st.want {
			t.Fatalf("%s: status = %d, want %d", st.name, resp.StatusCode, st.want)
		}
	}

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/incidents/inc-1", "analyst", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET incident status = %d", resp.StatusCode)
	}
	var got incident.Incident
	dataAs(t, envelope, &got)
	if got.Status != incident.StatusResolved || got.ResolvedBy != "user-analyst" || got.ResolutionNotes != "false positive" {
		t.Errorf("incident = %+v", got)
	}
}

func TestIncidents_List(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})
	env.incidents.mu.Lock()
	env.incidents.listed = []*incident.Incident{{ID: "a"}, {ID: "b"}}
	env.incidents.mu.Unlock()

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/incidents?status=resolved&severity=critical&hours=2", "analyst", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if envelope.Meta.Pagination.Count != 2 || envelope.Meta.Pagination.HasMore {
		t.Errorf("pagination = %+v", envelope.Meta.Pagination)
	}
	f := env.incidents.filter()
	if f.Status != "RESOLVED" || f.Severity != "CRITICAL" || f.Since.IsZero() {
		t.Errorf("filter = %+v", f)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/security/incidents?status=OPEN", "analyst", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown status: %d, want 400", resp.StatusCode)
	}
}

func TestTestAlert(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/security/test-alert", "admin", `{"severity":"medium","message":"drill"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d (%+v)", resp.StatusCode, envelope.Error)
	}
	var out TestAlertResponse
	dataAs(t, envelope, &out)
	if len(out.Alerts) != 2 {
		t.Errorf("alerts = %d, want 2", len(out.Alerts))
	}

	created := env.incidents.createdIncidents()
	if len(created) != 1 {
		t.Fatalf("created incidents = %d, want 1", len(created))
	}
	inc := created[0]
	if inc.ID != out.IncidentID || inc.Type != incident.TypeTest || inc.Severity != threat.SeverityMedium {
		t.Errorf("incident = %+v", inc)
	}
	if inc.Details["message"] != "drill" || inc.Details["requestedBy"] != "user-admin" {
		t.Errorf("details = %v", inc.Details)
	}
	if inc.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/security/test-alert", "admin", `{"severity":"URGENT"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad severity: %d, want 400", resp.StatusCode)
	}
}

func TestRules_Lifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	steps := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"create", http.MethodPost, "/api/v1/security/rules", `{"name":"geo","priority":2,"conditions":{"incidentType":"GEOGRAPHIC_ANOMALY"},"actions":["force_mfa","NOTIFY_ADMIN"]}`, http.StatusCreated},
		{"duplicate name", http.MethodPost, "/api/v1/security/rules", `{"name":"geo","priority":3,"actions":["BLOCK_IP"]}`, http.StatusConflict},
		{"duplicate priority", http.MethodPost, "/api/v1/security/rules", `{"name":"other","priority":1,"actions":["BLOCK_IP"]}`, http.StatusConflict},
		{"unknown action", http.MethodPost, "/api/v1/security/rules", `{"name":"x","priority":5,"actions":["DELETE_USER"]}`, http.StatusBadRequest},
		{"no actions", http.MethodPost, "/api/v1/security/rules", `{"name":"x","priority":5,"actions":[]}`, http.StatusBadRequest},
		{"empty range", http.MethodPost, "/api/v1/security/rules", `{"name":"x","priority":5,"conditions":{"threatScore":{"min":0.9,"max":0.1}},"actions":["BLOCK_IP"]}`, http.StatusBadRequest},
		{"update name mismatch", http.MethodPut, "/api/v1/security/rules/geo", `{"name":"other","priority":2,"actions":["BLOCK_IP"]}`, http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/api/v1/security/rules/missing", `{"name":"missing","priority":9,"actions":["BLOCK_IP"]}`, http.StatusNotFound},
		{"update disables", http.MethodPut, "/api/v1/security/rules/geo", `{"name":"geo","priority":2,"enabled":false,"actions":["BLOCK_IP"]}`, http.StatusOK},
		{"delete", http.MethodDelete, "/api/v1/security/rules/geo", "", http.StatusNoContent},
		{"delete again", http.MethodDelete, "/api/v1/security/rules/geo", "", http.StatusNotFound},
	}
	for _, st := range steps {
		resp, envelope := env.do(t, st.method, st.path, "admin", st.body)
		if resp.StatusCode != st.want {
			t.Fatalf("%s: status = %d, want %d (%+v)", st.name, resp.StatusCode, st.want, envelope.Error)
		}
		if st.name == "update disables" {
			for _, r := range env.engine.Rules().Rules() {
				if r.Name == "geo" && r.Enabled {
					t.Error("rule still enabled after update")
				}
			}
		}
	}

	rules := env.engine.Rules().Rules()
	if len(rules) != 1 || rules[0].Name != "critical" {
		t.Errorf("rules = %+v, want only the seed rule", rules)
	}
}

func TestAuthFailures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	for i, want := range []int64{3, 4} {
		body := `{"ip":"198.51.100.7","count":3}`
		if i == 1 {
			body = `{"ip":"198.51.100.7"}`
		}
		resp, envelope := env.do(t, http.MethodPost, "/api/v1/security/auth-failures", "analyst", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var out AuthFailureResponse
		dataAs(t, envelope, &out)
		if out.Failures != want {
			t.Errorf("failures = %d, want %d", out.Failures, want)
		}
	}

	resp, _ := env.do(t, http.MethodPost, "/api/v1/security/auth-failures", "analyst", `{"ip":"999.1.1.1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad ip: %d, want 400", resp.StatusCode)
	}
}

func TestBlocksAndSuspensions(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{})

	steps := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/security/blocks", http.StatusOK},
		{http.MethodDelete, "/api/v1/security/blocks/not-an-ip", http.StatusBadRequest},
		{http.MethodDelete, "/api/v1/security/blocks/203.0.113.9", http.StatusNoContent},
		{http.MethodDelete, "/api/v1/security/blocks/203.0.113.9", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/security/suspensions/u-1", http.StatusNoContent},
		{http.MethodDelete, "/api/v1/security/suspensions/u-1", http.StatusNotFound},
	}
	for _, st := range steps {
		resp, _ := env.do(t, st.method, st.path, "admin", "")
		if resp.StatusCode != st.want {
			t.Errorf("%s %s = %d, want %d", st.method, st.path, resp.StatusCode, st.want)
		}
	}

	resp, _ := env.do(t, http.MethodDelete, "/api/v1/security/blocks/203.0.113.9", "analyst", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("analyst unblock = %d, want 403", resp.StatusCode)
	}
}

func TestAuditTrail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Deps{ClientIP: func(*http.Request) string { return "198.51.100.7" }})

	steps := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodDelete, "/api/v1/security/blocks/203.0.113.9", "", http.StatusNoContent},
		{http.MethodDelete, "/api/v1/security/blocks/203.0.113.9", "", http.StatusNotFound},
		{http.MethodDelete, "/api/v1/security/suspensions/u-1", "", http.StatusNoContent},
		{http.MethodPost, "/api/v1/security/auth-failures", `{"ip":"192.0.2.1","count":2}`, http.StatusOK},
		{http.MethodDelete, "/api/v1/security/rules/critical", "", http.StatusNoContent},
	}
	for _, st := range steps {
		resp, _ := env.do(t, st.method, st.path, "admin", st.body)
		if resp.StatusCode != st.want {
			t.Fatalf("%s %s = %d, want %d", st.method, st.path, resp.StatusCode, st.want)
		}
	}

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/security/audit", "admin", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /audit = %d", resp.StatusCode)
	}
	var events []audit.Event
	dataAs(t, envelope, &events)

	// The rejected second unblock leaves no entry.
	wantTypes := []audit.EventType{
		audit.EventRuleDeleted,
		audit.EventAuthFailureRecorded,
		audit.EventSuspensionLifted,
		audit.EventBlockLifted,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d audit events, want %d: %+v", len(events), len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event %d type = %s, want %s", i, events[i].Type, want)
		}
	}
	lifted := events[3]
	if lifted.Actor.ID != "user-admin" || lifted.Actor.Role != "admin" {
		t.Errorf("actor = %+v", lifted.Actor)
	}
	if lifted.Target != (audit.Target{Type: "ip", ID: "203.0.113.9"}) {
		t.Errorf("target = %+v", lifted.Target)
	}
	if lifted.SourceIP != "198.51.100.7" || lifted.RequestID == "" {
		t.Errorf("source = %q request = %q", lifted.SourceIP, lifted.RequestID)
	}

	_, envelope = env.do(t, http.MethodGet, "/api/v1/security/audit?type=block.lifted", "admin", "")
	events = nil
	dataAs(t, envelope, &events)
	if len(events) != 1 || events[0].Type != audit.EventBlockLifted {
		t.Errorf("type filter = %+v", events)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/security/audit?hours=9999", "admin", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("hours=9999 = %d, want 400", resp.StatusCode)
	}
}
