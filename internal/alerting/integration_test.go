// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/aegis/internal/alerting"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/response"
	"github.com/tomtom215/aegis/internal/threat"
)

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// A failing email channel must not stop the webhook delivery nor the
// incident reaching ACTIONS_TAKEN.
func TestIncidentResponse_EmailFailsWebhookSucceeds(t *testing.T) {
	t.Parallel()

	var webhookHits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Security-Alert") == "true" {
			webhookHits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := config.AlertsConfig{
		MaxRetries:      3,
		DeliveryTimeout: 2 * time.Second,
		AdminRecipients: []string{"admin@example.com"},
		Breaker:         config.BreakerConfig{MaxFailures: 5, Timeout: time.Minute},
		Email: config.EmailConfig{
			Enabled: true, Host: "127.0.0.1", Port: closedPort(t), Recipients: []string{"soc@example.com"},
		},
		Webhook: config.WebhookConfig{Enabled: true, Endpoints: []string{hook.URL}},
	}
	regs, err := alerting.BuildRegistrations(cfg)
	if err != nil {
		t.Fatal(err)
	}
	alertStore := alerting.NewMemoryStore()
	dispatcher := alerting.NewDispatcher(cfg, alertStore, regs)

	executor := response.NewExecutor(response.NewMemoryState(), config.ActionsConfig{},
		response.WithAdminNotifier(dispatcher))
	rules, err := incident.RuleSetFromConfig(config.DefaultRules())
	if err != nil {
		t.Fatal(err)
	}
	incidents := incident.NewMemoryStore()
	engine := incident.NewEngine(rules, incidents, executor, incident.WithAlerter(dispatcher))

	user := "user-1"
	inc := &incident.Incident{
		ID:            "inc-e2e",
		Type:          incident.TypeThreatScore,
		Severity:      threat.SeverityCritical,
		ThreatScore:   0.95,
		SubjectIP:     "203.0.113.77",
		SubjectUserID: &user,
	}
	handled, err := engine.Handle(context.Background(), inc)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if handled.Status != incident.StatusActionsTaken {
		t.Errorf("Status = %s, want %s", handled.Status, incident.StatusActionsTaken)
	}

	alerts := alertStore.ForIncident("inc-e2e")
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}
	for _, a := range alerts {
		switch a.Channel {
		case "email":
			if a.Status != alerting.StatusFailed || a.LastError == "" {
				t.Errorf("email alert = %+v, want FAILED with error", a)
			}
		case "webhook":
			if a.Status != alerting.StatusSent {
				t.Errorf("webhook alert = %+v, want SENT", a)
			}
		default:
			t.Errorf("unexpected channel %s", a.Channel)
		}
	}
	if webhookHits.Load() != 1 {
		t.Errorf("webhook received %d alerts, want 1", webhookHits.Load())
	}

	en, err := executor.Check(context.Background(), "203.0.113.77", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !en.BlockedIP || !en.SuspendedUser {
		t.Errorf("enforcement = %+v, want block and suspension", en)
	}

	stored, _ := incidents.GetIncident(context.Background(), "inc-e2e")
	var notify *incident.ActionRecord
	for i := range stored.Actions {
		if stored.Actions[i].Action == incident.ActionNotifyAdmin {
			notify = &stored.Actions[i]
		}
	}
	if notify == nil || notify.Success {
		t.Errorf("NOTIFY_ADMIN record = %+v, want a recorded failure (SMTP unreachable)", notify)
	}
}
