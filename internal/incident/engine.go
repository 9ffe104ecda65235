// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package incident

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

// Store persists incidents. UpdateStatus and ResolveIncident must apply
// their transitions conditionally so that concurrent writers cannot
// resolve twice.
type Store interface {
	CreateIncident(ctx context.Context, inc *Incident) error
	AppendAction(ctx context.Context, incidentID string, rec ActionRecord) error
	// UpdateStatus moves id from one status to another. It returns
	// ErrIncidentNotFound when no incident is in the from status.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error
	// ResolveIncident returns ErrIncidentAlreadyResolved or
	// ErrIncidentNotFound.
	ResolveIncident(ctx context.Context, id, resolvedBy, notes string, at time.Time) (*Incident, error)
	GetIncident(ctx context.Context, id string) (*Incident, error)
}

// Executor runs one remediation primitive.
type Executor interface {
	Execute(ctx context.Context, action ActionName, inc *Incident) ActionResult
}

// Alerter fans an incident out to the alert channels. Delivery failures
// are recorded per channel and are not returned.
type Alerter interface {
	AlertIncident(ctx context.Context, inc *Incident) error
}

// EventPublisher publishes realtime events.
type EventPublisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any) error
}

// Engine drives the incident lifecycle. It is the only writer of incident
// status.
type Engine struct {
	store    Store
	executor Executor
	alerter  Alerter
	events   EventPublisher
	now      func() time.Time

	rules   atomic.Pointer[RuleSet]
	rulesMu sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAlerter sets the alert dispatcher.
func WithAlerter(a Alerter) EngineOption {
	return func(e *Engine) { e.alerter = a }
}

// WithEventPublisher sets the realtime event sink.
func WithEventPublisher(p EventPublisher) EngineOption {
	return func(e *Engine) { e.events = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over a validated rule table.
func NewEngine(rules *RuleSet, store Store, executor Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		executor: executor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if rules == nil {
		rules = &RuleSet{}
	}
	e.rules.Store(rules)
	return e
}

// Handle persists inc, runs every matching rule's actions in priority
// order, alerts and publishes it. Action failures are recorded on the
// incident; persistence and alert errors are returned joined.
func (e *Engine) Handle(ctx context.Context, inc *Incident) (*Incident, error) {
	if inc == nil {
		return nil, errors.New("incident: nil incident")
	}
	now := e.now().UTC()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.UpdatedAt = now
	inc.Status = StatusDetected
	inc.Actions = nil

	ctx = logging.ContextWithIncidentID(ctx, inc.ID)
	if err := e.store.CreateIncident(ctx, inc); err != nil {
		return inc, fmt.Errorf("persist incident: %w", err)
	}
	metrics.IncidentsCreated.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()

	var errs []error
	matched := e.rules.Load().Match(inc)
	for _, rule := range matched {
		for _, action := range rule.Actions {
			res := e.executor.Execute(ctx, action, inc)
			rec := ActionRecord{
				Action:     action,
				Rule:       rule.Name,
				Success:    res.Success,
				NoOp:       res.NoOp,
				ExecutedAt: e.now().UTC(),
			}
			if res.Err != nil {
				rec.Error = res.Err.Error()
				logging.Ctx(ctx).Warn().Err(res.Err).
					Str("rule", rule.Name).
					Str("action", string(action)).
					Msg("response action failed")
			}
			metrics.ResponseActions.WithLabelValues(string(action), resultLabel(res)).Inc()

			inc.Actions = append(inc.Actions, rec)
			if err := e.store.AppendAction(ctx, inc.ID, rec); err != nil {
				errs = append(errs, fmt.Errorf("record action %s: %w", action, err))
			}
		}
	}

	if len(matched) > 0 {
		at := e.now().UTC()
		if err := e.store.UpdateStatus(ctx, inc.ID, StatusDetected, StatusActionsTaken, at); err != nil {
			errs = append(errs, fmt.Errorf("transition to %s: %w", StatusActionsTaken, err))
		} else {
			inc.Status = StatusActionsTaken
			inc.UpdatedAt = at
		}
	}

	logging.Ctx(ctx).Info().
		Str("type", string(inc.Type)).
		Str("severity", string(inc.Severity)).
		Float64("threat_score", inc.ThreatScore).
		Int("rules_matched", len(matched)).
		Int("actions", len(inc.Actions)).
		Str("status", string(inc.Status)).
		Msg("incident handled")

	if e.alerter != nil {
		if err := e.alerter.AlertIncident(ctx, inc.Clone()); err != nil {
			errs = append(errs, fmt.Errorf("alert incident: %w", err))
		}
	}
	e.publish(ctx, eventbus.EventSecurityIncident, inc)

	return inc, errors.Join(errs...)
}

// Resolve closes an incident. Both resolver and notes are required.
func (e *Engine) Resolve(ctx context.Context, id, resolvedBy, notes string) (*Incident, error) {
	if strings.TrimSpace(resolvedBy) == "" || strings.TrimSpace(notes) == "" {
		return nil, ErrResolutionIncomplete
	}
	ctx = logging.ContextWithIncidentID(ctx, id)

	inc, err := e.store.ResolveIncident(ctx, id, resolvedBy, notes, e.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.IncidentsResolved.Inc()
	logging.Ctx(ctx).Info().Str("resolved_by", resolvedBy).Msg("incident resolved")
	e.publish(ctx, eventbus.EventIncidentResolved, inc)
	return inc, nil
}

// Get returns an incident by id.
func (e *Engine) Get(ctx context.Context, id string) (*Incident, error) {
	return e.store.GetIncident(ctx, id)
}

// Rules returns the active table.
func (e *Engine) Rules() *RuleSet {
	return e.rules.Load()
}

// SetRules swaps the active table.
func (e *Engine) SetRules(rs *RuleSet) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()
	e.rules.Store(rs)
	logging.Info().Int("rules", rs.Len()).Msg("incident rule table replaced")
}

// UpsertRule adds or replaces the rule named r.Name. The resulting table is
// validated as a whole.
func (e *Engine) UpsertRule(r Rule) (*RuleSet, error) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	current := e.rules.Load().Rules()
	replaced := false
	for i := range current {
		if current[i].Name == r.Name {
			current[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		current = append(current, r)
	}
	rs, err := NewRuleSet(current)
	if err != nil {
		return nil, err
	}
	e.rules.Store(rs)
	return rs, nil
}

// DeleteRule removes the named rule.
func (e *Engine) DeleteRule(name string) (*RuleSet, error) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	current := e.rules.Load().Rules()
	kept := current[:0]
	for _, r := range current {
		if r.Name != name {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(current) {
		return nil, fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}
	rs, err := NewRuleSet(kept)
	if err != nil {
		return nil, err
	}
	e.rules.Store(rs)
	return rs, nil
}

func (e *Engine) publish(ctx context.Context, eventType string, inc *Incident) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, eventbus.TopicIncidents, eventType, inc.Clone()); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event", eventType).Msg("failed to publish incident event")
	}
}

func resultLabel(r ActionResult) string {
	switch {
	case r.NoOp:
		return "noop"
	case r.Success:
		return "success"
	default:
		return "failure"
	}
}
