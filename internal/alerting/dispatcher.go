// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/threat"
)

const requeueBatch = 100

// ErrNoAdminChannel is returned by NotifyAdmins when neither an admin
// mailbox nor the dashboard is reachable.
var ErrNoAdminChannel = errors.New("no admin notification channel configured")

// EventPublisher publishes realtime events.
type EventPublisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any) error
}

// AdminMailer sends the urgent NOTIFY_ADMIN mail.
type AdminMailer interface {
	SendTo(ctx context.Context, to []string, subject, htmlBody string) error
}

// Dispatcher fans incidents out to alert channels. Each channel is
// delivered independently: one failing, slow or panicking channel never
// affects another.
type Dispatcher struct {
	channels []*guardedChannel
	byName   map[string]*guardedChannel
	store    Store
	events   EventPublisher
	mailer   AdminMailer
	admins   []string

	maxRetries int
	timeout    time.Duration
	now        func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEventPublisher sets the dashboard event sink.
func WithEventPublisher(p EventPublisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithAdminMailer overrides the mailer used for NOTIFY_ADMIN. By default
// the registered email channel is used.
func WithAdminMailer(m AdminMailer) Option {
	return func(d *Dispatcher) { d.mailer = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a dispatcher over the given channel registrations.
func NewDispatcher(cfg config.AlertsConfig, store Store, regs []Registration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		byName:     make(map[string]*guardedChannel, len(regs)),
		store:      store,
		admins:     append([]string(nil), cfg.AdminRecipients...),
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.DeliveryTimeout,
		now:        time.Now,
	}
	if d.maxRetries <= 0 {
		d.maxRetries = 3
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	for _, reg := range regs {
		g := newGuardedChannel(reg, cfg.Breaker)
		d.channels = append(d.channels, g)
		d.byName[g.Name()] = g
		if m, ok := reg.Channel.(AdminMailer); ok && d.mailer == nil {
			d.mailer = m
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Channels returns the registered channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.Name()
	}
	return names
}

// AlertIncident dispatches inc and returns persistence errors only.
func (d *Dispatcher) AlertIncident(ctx context.Context, inc *incident.Incident) error {
	_, err := d.dispatch(ctx, inc)
	return err
}

// DispatchIncident creates one alert per admitting channel, delivers them
// concurrently and returns their final state.
func (d *Dispatcher) DispatchIncident(ctx context.Context, inc *incident.Incident) []Alert {
	alerts, err := d.dispatch(ctx, inc)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("alert persistence failed")
	}
	return alerts
}

func (d *Dispatcher) dispatch(ctx context.Context, inc *incident.Incident) ([]Alert, error) {
	payload := PayloadFor(inc)
	now := d.now().UTC()

	var targets []*guardedChannel
	var alerts []*Alert
	var errs []error
	for _, ch := range d.channels {
		if !ch.admits(inc.Severity) {
			continue
		}
		a := &Alert{
			ID:         uuid.NewString(),
			IncidentID: inc.ID,
			Channel:    ch.Name(),
			Type:       inc.Type,
			Severity:   inc.Severity,
			Message:    payload.Message,
			Details:    payload.Details,
			Status:     StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := d.store.CreateAlert(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("persist %s alert: %w", ch.Name(), err))
		}
		targets = append(targets, ch)
		alerts = append(alerts, a)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := range alerts {
		wg.Add(1)
		go func(ch *guardedChannel, a *Alert) {
			defer wg.Done()
			if err := d.attempt(ctx, ch, a, payload); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(targets[i], alerts[i])
	}
	wg.Wait()

	out := make([]Alert, len(alerts))
	for i, a := range alerts {
		out[i] = *a
	}
	if len(out) > 0 {
		d.publish(ctx, eventbus.EventSecurityAlert, map[string]any{
			"incidentId": inc.ID,
			"type":       inc.Type,
			"severity":   inc.Severity,
			"message":    payload.Message,
			"timestamp":  now,
			"alerts":     out,
		})
	}
	return out, errors.Join(errs...)
}

// attempt delivers one alert and records the outcome. Only the store
// error is returned; delivery errors land on the alert.
func (d *Dispatcher) attempt(ctx context.Context, ch *guardedChannel, a *Alert, p Payload) error {
	deliverCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := ch.deliver(deliverCtx, p)
	cancel()

	now := d.now().UTC()
	a.Attempts++
	a.UpdatedAt = now
	if err != nil {
		a.Status = StatusFailed
		a.LastError = err.Error()
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("channel", ch.Name()).
			Str("alert_id", a.ID).
			Int("attempts", a.Attempts).
			Msg("alert delivery failed")
	} else {
		a.Status = StatusSent
		a.LastError = ""
		a.SentAt = &now
	}

	if storeErr := d.store.UpdateAlert(ctx, a); storeErr != nil {
		return fmt.Errorf("record %s alert %s: %w", ch.Name(), a.ID, storeErr)
	}
	return nil
}

// RequeueReport summarises one requeue pass.
type RequeueReport struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Skipped   int `json:"skipped"`
}

// RequeueFailed retries FAILED alerts that still have attempts left.
// Alerts reaching the retry limit stay FAILED.
func (d *Dispatcher) RequeueFailed(ctx context.Context) (RequeueReport, error) {
	var report RequeueReport
	pending, err := d.store.RetryableAlerts(ctx, d.maxRetries, requeueBatch)
	if err != nil {
		return report, fmt.Errorf("load retryable alerts: %w", err)
	}

	var errs []error
	for _, a := range pending {
		ch, ok := d.byName[a.Channel]
		if !ok {
			report.Skipped++
			continue
		}
		report.Attempted++
		if err := d.attempt(ctx, ch, a, a.payload()); err != nil {
			errs = append(errs, err)
		}
		switch {
		case a.Status == StatusSent:
			report.Sent++
		case a.Attempts >= d.maxRetries:
			report.Exhausted++
		default:
			report.Failed++
		}
	}

	if report.Attempted > 0 {
		logging.Ctx(ctx).Info().
			Int("attempted", report.Attempted).
			Int("sent", report.Sent).
			Int("exhausted", report.Exhausted).
			Msg("alert requeue pass complete")
	}
	return report, errors.Join(errs...)
}

// NotifyAdmins sends the urgent administrator notification for inc to the
// admin mailbox and to the dashboard.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, inc *incident.Incident) error {
	delivered := false
	if d.events != nil {
		d.publish(ctx, eventbus.EventAdminNotification, map[string]any{
			"incidentId": inc.ID,
			"type":       inc.Type,
			"severity":   inc.Severity,
			"message":    inc.Message(),
		})
		delivered = true
	}

	if d.mailer == nil || len(d.admins) == 0 {
		if !delivered {
			return ErrNoAdminChannel
		}
		return nil
	}

	body, err := renderEmail(PayloadFor(inc), true)
	if err != nil {
		return err
	}
	mailCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	subject := fmt.Sprintf("URGENT: Security Incident - %s", inc.Severity)
	if err := d.mailer.SendTo(mailCtx, d.admins, subject, body); err != nil {
		return fmt.Errorf("notify admins: %w", err)
	}
	recipients := make([]string, len(d.admins))
	for i, addr := range d.admins {
		recipients[i] = logging.SanitizeEmail(addr)
	}
	logging.Ctx(ctx).Info().
		Str("incident_id", inc.ID).
		Strs("recipients", recipients).
		Msg("admins notified")
	return nil
}

// Digest summarises activity over a period.
type Digest struct {
	Since         time.Time      `json:"since"`
	Until         time.Time      `json:"until"`
	TotalRequests int64          `json:"totalRequests"`
	ByAction      map[string]int `json:"byAction"`
	Incidents     int            `json:"incidents"`
	OpenIncidents int            `json:"openIncidents"`
	TopIPs        []string       `json:"topIps,omitempty"`
}

// SendDigest delivers d to every digest-enabled channel.
func (d *Dispatcher) SendDigest(ctx context.Context, dg Digest) error {
	p := Payload{
		IncidentID: "digest-" + dg.Until.UTC().Format("20060102T1504"),
		Type:       incident.Type(eventbus.EventThreatDigest),
		Severity:   threat.SeverityLow,
		Timestamp:  dg.Until,
		Message: fmt.Sprintf("Threat digest %s to %s: %d requests scored, %d incidents (%d open)",
			dg.Since.UTC().Format(time.RFC3339), dg.Until.UTC().Format(time.RFC3339),
			dg.TotalRequests, dg.Incidents, dg.OpenIncidents),
		Details: map[string]any{
			"byAction": dg.ByAction,
			"topIps":   dg.TopIPs,
		},
	}

	var errs []error
	for _, ch := range d.channels {
		if !ch.digest {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := ch.deliver(sendCtx, p)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s digest: %w", ch.Name(), err))
		}
	}
	d.publish(ctx, eventbus.EventThreatDigest, dg)
	return errors.Join(errs...)
}

func (d *Dispatcher) publish(ctx context.Context, eventType string, payload any) {
	if d.events == nil {
		return
	}
	if err := d.events.Publish(ctx, eventbus.TopicAlerts, eventType, payload); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event", eventType).Msg("failed to publish alert event")
	}
}
