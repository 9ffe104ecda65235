// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/threat"
)

type fakeChannel struct {
	name  string
	delay time.Duration
	panic bool

	mu       sync.Mutex
	err      error
	payloads []Payload
	calls    atomic.Int32
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, p Payload) error {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return f.err
}

func (f *fakeChannel) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeMailer struct {
	to      []string
	subject string
	body    string
	err     error
}

func (m *fakeMailer) SendTo(_ context.Context, to []string, subject, body string) error {
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) Publish(_ context.Context, topic, eventType string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, topic+"/"+eventType)
	return nil
}

func testAlertsConfig() config.AlertsConfig {
	return config.AlertsConfig{
		MaxRetries:      3,
		DeliveryTimeout: time.Second,
		Breaker:         config.BreakerConfig{MaxFailures: 100, Timeout: time.Minute},
	}
}

func criticalIncident() *incident.Incident {
	u := "user-7"
	return &incident.Incident{
		ID:            "inc-1",
		Type:          incident.TypeThreatScore,
		Severity:      threat.SeverityCritical,
		ThreatScore:   0.94,
		SubjectIP:     "203.0.113.50",
		SubjectUserID: &u,
		Status:        incident.StatusActionsTaken,
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func alertByChannel(alerts []Alert, name string) *Alert {
	for i := range alerts {
		if alerts[i].Channel == name {
			return &alerts[i]
		}
	}
	return nil
}

func TestDispatchIncident_PerChannelIsolation(t *testing.T) {
	t.Parallel()

	email := &fakeChannel{name: "email", err: errors.New("smtp unavailable")}
	webhook := &fakeChannel{name: "webhook"}
	panicky := &fakeChannel{name: "slack", panic: true}
	store := NewMemoryStore()
	pub := &fakePublisher{}
	d := NewDispatcher(testAlertsConfig(), store, []Registration{
		{Channel: email}, {Channel: webhook}, {Channel: panicky},
	}, WithEventPublisher(pub))

	alerts := d.DispatchIncident(context.Background(), criticalIncident())
	if len(alerts) != 3 {
		t.Fatalf("got %d alerts, want 3", len(alerts))
	}

	if a := alertByChannel(alerts, "email"); a.Status != StatusFailed || !strings.Contains(a.LastError, "smtp unavailable") {
		t.Errorf("email alert = %+v", a)
	}
	if a := alertByChannel(alerts, "webhook"); a.Status != StatusSent || a.SentAt == nil || a.Attempts != 1 {
		t.Errorf("webhook alert = %+v", a)
	}
	if a := alertByChannel(alerts, "slack"); a.Status != StatusFailed || !strings.Contains(a.LastError, "panicked") {
		t.Errorf("slack alert = %+v", a)
	}

	stored := store.ForIncident("inc-1")
	if len(stored) != 3 {
		t.Fatalf("stored %d alerts, want 3", len(stored))
	}
	for _, a := range stored {
		if a.Status == StatusPending {
			t.Errorf("stored alert %s still PENDING", a.Channel)
		}
	}

	p := webhook.payloads[0]
	if p.IncidentID != "inc-1" || p.Severity != threat.SeverityCritical ||
		p.Message != "Security CRITICAL Alert: THREAT_SCORE - Threat score: 0.94 from IP: 203.0.113.50" {
		t.Errorf("payload = %+v", p)
	}
	if len(pub.events) != 1 || pub.events[0] != eventbus.TopicAlerts+"/"+eventbus.EventSecurityAlert {
		t.Errorf("events = %v", pub.events)
	}
}

func TestDispatchIncident_SlowChannelTimesOut(t *testing.T) {
	t.Parallel()

	slow := &fakeChannel{name: "sms", delay: 5 * time.Second}
	fast := &fakeChannel{name: "webhook"}
	cfg := testAlertsConfig()
	cfg.DeliveryTimeout = 50 * time.Millisecond
	d := NewDispatcher(cfg, NewMemoryStore(), []Registration{{Channel: slow}, {Channel: fast}})

	start := time.Now()
	alerts := d.DispatchIncident(context.Background(), criticalIncident())
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("dispatch took %v, slow channel was not bounded", elapsed)
	}
	if a := alertByChannel(alerts, "sms"); a.Status != StatusFailed {
		t.Errorf("sms alert = %+v, want FAILED", a)
	}
	if a := alertByChannel(alerts, "webhook"); a.Status != StatusSent {
		t.Errorf("webhook alert = %+v, want SENT", a)
	}
}

func TestDispatchIncident_MinSeverity(t *testing.T) {
	t.Parallel()

	sms := &fakeChannel{name: "sms"}
	webhook := &fakeChannel{name: "webhook"}
	d := NewDispatcher(testAlertsConfig(), NewMemoryStore(), []Registration{
		{Channel: sms, MinSeverity: threat.SeverityCritical},
		{Channel: webhook, MinSeverity: threat.SeverityLow},
	})

	inc := criticalIncident()
	inc.Severity = threat.SeverityHigh
	alerts := d.DispatchIncident(context.Background(), inc)
	if len(alerts) != 1 || alerts[0].Channel != "webhook" {
		t.Errorf("alerts = %+v, want webhook only", alerts)
	}
	if sms.calls.Load() != 0 {
		t.Error("sms channel should not be called below its minimum severity")
	}
}

func TestRequeueFailed(t *testing.T) {
	t.Parallel()

	flaky := &fakeChannel{name: "webhook", err: errors.New("502")}
	dead := &fakeChannel{name: "email", err: errors.New("refused")}
	store := NewMemoryStore()
	d := NewDispatcher(testAlertsConfig(), store, []Registration{{Channel: flaky}, {Channel: dead}})
	ctx := context.Background()

	d.DispatchIncident(ctx, criticalIncident())
	flaky.setErr(nil)

	report, err := d.RequeueFailed(ctx)
	if err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}
	if report.Attempted != 2 || report.Sent != 1 || report.Failed != 1 {
		t.Errorf("first pass = %+v", report)
	}

	report, _ = d.RequeueFailed(ctx)
	if report.Attempted != 1 || report.Exhausted != 1 {
		t.Errorf("second pass = %+v, want the email alert exhausted", report)
	}

	report, _ = d.RequeueFailed(ctx)
	if report.Attempted != 0 {
		t.Errorf("third pass retried %d alerts, want 0", report.Attempted)
	}
	if got := dead.calls.Load(); got != 3 {
		t.Errorf("email channel called %d times, want max_retries=3", got)
	}

	for _, a := range store.ForIncident("inc-1") {
		switch a.Channel {
		case "webhook":
			if a.Status != StatusSent || a.Attempts != 2 {
				t.Errorf("webhook alert = %+v", a)
			}
		case "email":
			if a.Status != StatusFailed || a.Attempts != 3 {
				t.Errorf("email alert = %+v", a)
			}
		}
	}
}

func TestRequeueFailed_SkipsUnknownChannel(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_ = store.CreateAlert(context.Background(), &Alert{ID: "a1", Channel: "pager", Status: StatusFailed, Attempts: 1})
	d := NewDispatcher(testAlertsConfig(), store, nil)

	report, err := d.RequeueFailed(context.Background())
	if err != nil || report.Skipped != 1 || report.Attempted != 0 {
		t.Errorf("report = %+v, err = %v", report, err)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	failing := &fakeChannel{name: "discord", err: errors.New("down")}
	cfg := testAlertsConfig()
	cfg.Breaker = config.BreakerConfig{MaxFailures: 2, Timeout: time.Hour}
	d := NewDispatcher(cfg, NewMemoryStore(), []Registration{{Channel: failing}})

	for i := 0; i < 4; i++ {
		inc := criticalIncident()
		inc.ID = inc.ID + string(rune('a'+i))
		alerts := d.DispatchIncident(context.Background(), inc)
		if alerts[0].Status != StatusFailed {
			t.Fatalf("alert %d = %+v", i, alerts[0])
		}
	}
	if got := failing.calls.Load(); got != 2 {
		t.Errorf("channel called %d times, want 2 before the circuit opened", got)
	}
}

func TestNotifyAdmins(t *testing.T) {
	t.Parallel()

	t.Run("mails admins and notifies dashboard", func(t *testing.T) {
		t.Parallel()
		mailer := &fakeMailer{}
		pub := &fakePublisher{}
		cfg := testAlertsConfig()
		cfg.AdminRecipients = []string{"sec@example.com"}
		d := NewDispatcher(cfg, NewMemoryStore(), nil, WithAdminMailer(mailer), WithEventPublisher(pub))

		if err := d.NotifyAdmins(context.Background(), criticalIncident()); err != nil {
			t.Fatalf("NotifyAdmins: %v", err)
		}
		if mailer.subject != "URGENT: Security Incident - CRITICAL" || mailer.to[0] != "sec@example.com" {
			t.Errorf("mail = %q to %v", mailer.subject, mailer.to)
		}
		if !strings.Contains(mailer.body, "Please review and take appropriate action.") {
			t.Error("urgent mail body missing call to action")
		}
		if len(pub.events) != 1 || !strings.HasSuffix(pub.events[0], eventbus.EventAdminNotification) {
			t.Errorf("events = %v", pub.events)
		}
	})

	t.Run("mail failure is returned", func(t *testing.T) {
		t.Parallel()
		cfg := testAlertsConfig()
		cfg.AdminRecipients = []string{"sec@example.com"}
		d := NewDispatcher(cfg, NewMemoryStore(), nil, WithAdminMailer(&fakeMailer{err: errors.New("535 auth")}))
		if err := d.NotifyAdmins(context.Background(), criticalIncident()); err == nil {
			t.Error("want error")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Parallel()
		d := NewDispatcher(testAlertsConfig(), NewMemoryStore(), nil)
		if err := d.NotifyAdmins(context.Background(), criticalIncident()); !errors.Is(err, ErrNoAdminChannel) {
			t.Errorf("err = %v, want ErrNoAdminChannel", err)
		}
	})
}

func TestSendDigest(t *testing.T) {
	t.Parallel()

	digestCh := &fakeChannel{name: "slack"}
	plain := &fakeChannel{name: "sms"}
	d := NewDispatcher(testAlertsConfig(), NewMemoryStore(), []Registration{
		{Channel: digestCh, Digest: true},
		{Channel: plain},
	})

	until := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	err := d.SendDigest(context.Background(), Digest{
		Since: until.Add(-time.Hour), Until: until, TotalRequests: 1200, Incidents: 4, OpenIncidents: 1,
		ByAction: map[string]int{"ALLOW": 1190, "BLOCK": 10},
	})
	if err != nil {
		t.Fatalf("SendDigest: %v", err)
	}
	if plain.calls.Load() != 0 {
		t.Error("non-digest channel received the digest")
	}
	if len(digestCh.payloads) != 1 || !strings.Contains(digestCh.payloads[0].Message, "1200 requests scored, 4 incidents (1 open)") {
		t.Errorf("digest payloads = %+v", digestCh.payloads)
	}
}

func TestBuildRegistrations(t *testing.T) {
	t.Parallel()

	cfg := testAlertsConfig()
	cfg.Email = config.EmailConfig{Enabled: true, MinSeverity: "high", Host: "smtp.example.com"}
	cfg.Webhook = config.WebhookConfig{Enabled: true, Endpoints: []string{"https://hooks.example.com/a"}}
	cfg.Slack = config.SlackConfig{Enabled: false}

	regs, err := BuildRegistrations(cfg)
	if err != nil {
		t.Fatalf("BuildRegistrations: %v", err)
	}
	if len(regs) != 2 || regs[0].Channel.Name() != "email" || regs[0].MinSeverity != threat.SeverityHigh {
		t.Errorf("regs = %+v", regs)
	}

	cfg.Email.MinSeverity = "severe"
	if _, err := BuildRegistrations(cfg); err == nil {
		t.Error("invalid min severity should fail")
	}
}
