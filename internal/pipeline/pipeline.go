// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package pipeline scores inbound requests and fans the result out to the
// asynchronous sinks: behavioural profiles, the threat log, incident
// response and the realtime bus.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tomtom215/aegis/internal/eventbus"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/profile"
	"github.com/tomtom215/aegis/internal/storage"
	"github.com/tomtom215/aegis/internal/threat"
)

const tracerName = "github.com/tomtom215/aegis/internal/pipeline"

const maxLoggedPath = 256

// Async task names, used as metric labels.
const (
	TaskProfileUpdate = "profile-update"
	TaskThreatLog     = "threat-log"
	TaskIncidents     = "incidents"
	TaskThreatEvent   = "threat-event"
)

// SignalCollector turns a request into a signal.
type SignalCollector interface {
	Collect(r *http.Request) *threat.RequestSignal
}

// RequestAnalyzer scores a signal.
type RequestAnalyzer interface {
	Analyze(ctx context.Context, sig *threat.RequestSignal) *threat.Analysis
}

// ProfileRecorder updates behavioural profiles.
type ProfileRecorder interface {
	Record(key string, obs profile.Observation)
}

// ThreatLogWriter appends to the threat log.
type ThreatLogWriter interface {
	AppendThreatLog(ctx context.Context, rec storage.ThreatLogRecord) error
}

// IncidentHandler runs the incident response for one incident.
type IncidentHandler interface {
	Handle(ctx context.Context, inc *incident.Incident) (*incident.Incident, error)
}

// Publisher publishes bus events.
type Publisher interface {
	Publish(ctx context.Context, topic, eventType string, payload any) error
}

// Result is what the middleware needs to enforce the decision.
type Result struct {
	Signal   *threat.RequestSignal
	Analysis *threat.Analysis
}

// Action returns the decided action.
func (r Result) Action() threat.ActionType {
	return r.Analysis.Decision.Action
}

// ThreatEvent is the THREAT_SCORED payload.
type ThreatEvent struct {
	RequestID string            `json:"requestId"`
	IP        string            `json:"ip"`
	UserID    *string           `json:"userId"`
	TenantID  *string           `json:"tenantId"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Score     float64           `json:"score"`
	Action    threat.ActionType `json:"action"`
	Reason    string            `json:"reason"`
	Severity  threat.Severity   `json:"severity"`
	Anomalies []threat.Anomaly  `json:"anomalies"`
	Timestamp time.Time         `json:"timestamp"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProfiles enables the profile update sink.
func WithProfiles(p ProfileRecorder) Option {
	return func(pl *Pipeline) { pl.profiles = p }
}

// WithThreatLog enables the threat log sink.
func WithThreatLog(w ThreatLogWriter) Option {
	return func(pl *Pipeline) { pl.threatLog = w }
}

// WithIncidents enables incident generation. Anomalies below minSeverity
// do not open their own incident.
func WithIncidents(h IncidentHandler, minSeverity threat.Severity) Option {
	return func(pl *Pipeline) {
		pl.incidents = h
		pl.minSeverity = minSeverity
	}
}

// WithPublisher enables THREAT_SCORED events.
func WithPublisher(p Publisher) Option {
	return func(pl *Pipeline) { pl.publisher = p }
}

// WithStats records every scored request into s.
func WithStats(s *Stats) Option {
	return func(pl *Pipeline) { pl.stats = s }
}

// Pipeline runs collection and analysis synchronously and hands the result
// to the async runner.
type Pipeline struct {
	collector SignalCollector
	analyzer  RequestAnalyzer
	runner    *Runner
	tracer    trace.Tracer

	profiles    ProfileRecorder
	threatLog   ThreatLogWriter
	incidents   IncidentHandler
	minSeverity threat.Severity
	publisher   Publisher
	stats       *Stats
}

// New creates a Pipeline. Sinks not configured through options are skipped.
func New(collector SignalCollector, analyzer RequestAnalyzer, runner *Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		collector:   collector,
		analyzer:    analyzer,
		runner:      runner,
		tracer:      otel.Tracer(tracerName),
		minSeverity: threat.SeverityHigh,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluate scores r. Client cancellation does not cut the evaluation short;
// the detector deadline bounds it instead.
func (p *Pipeline) Evaluate(ctx context.Context, r *http.Request) Result {
	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "pipeline.Evaluate")
	defer span.End()

	sig := p.collector.Collect(r)
	if logging.RequestIDFromContext(ctx) == "" {
		ctx = logging.ContextWithRequestID(ctx, sig.RequestID)
	}
	a := p.analyzer.Analyze(ctx, sig)
	span.SetAttributes(
		attribute.String("request.id", sig.RequestID),
		attribute.String("threat.action", string(a.Decision.Action)),
	)

	if p.stats != nil {
		p.stats.Record(sig, a)
	}
	p.dispatch(ctx, sig, a)

	if a.Decision.Action != threat.ActionAllow {
		logging.Ctx(ctx).Info().
			Str("ip", sig.IP).
			Str("path", logging.Truncate(sig.Path, maxLoggedPath)).
			Float64("score", a.Score).
			Str("action", string(a.Decision.Action)).
			Str("reason", a.Decision.Reason).
			Msg("request flagged")
	}
	return Result{Signal: sig, Analysis: a}
}

func (p *Pipeline) dispatch(ctx context.Context, sig *threat.RequestSignal, a *threat.Analysis) {
	if p.runner == nil {
		return
	}
	if p.profiles != nil {
		p.runner.Submit(ctx, TaskProfileUpdate, func(context.Context) error {
			p.profiles.Record(profile.Key(sig.UserID, sig.IP), profile.Observation{
				Method: sig.Method,
				Path:   sig.Path,
				Time:   sig.Timestamp,
				Score:  a.Score,
			})
			return nil
		})
	}
	if p.threatLog != nil {
		p.runner.Submit(ctx, TaskThreatLog, func(ctx context.Context) error {
			rec, err := storage.NewThreatLogRecord(sig, a)
			if err != nil {
				return err
			}
			return p.threatLog.AppendThreatLog(ctx, rec)
		})
	}
	if p.incidents != nil {
		if incs := incident.FromAnalysis(sig, a, p.minSeverity); len(incs) > 0 {
			p.runner.Submit(ctx, TaskIncidents, func(ctx context.Context) error {
				return p.handleIncidents(ctx, incs)
			})
		}
	}
	if p.publisher != nil && a.Decision.Action != threat.ActionAllow {
		p.runner.Submit(ctx, TaskThreatEvent, func(ctx context.Context) error {
			return p.publisher.Publish(ctx, eventbus.TopicThreats, eventbus.EventThreatScored, newThreatEvent(sig, a))
		})
	}
}

func (p *Pipeline) handleIncidents(ctx context.Context, incs []*incident.Incident) error {
	failed := 0
	var last error
	for _, inc := range incs {
		if _, err := p.incidents.Handle(ctx, inc); err != nil {
			failed++
			last = err
			logging.Ctx(ctx).Warn().Err(err).Str("incident_type", string(inc.Type)).Msg("incident handling failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d incidents failed: %w", failed, len(incs), last)
	}
	return nil
}

func newThreatEvent(sig *threat.RequestSignal, a *threat.Analysis) ThreatEvent {
	anomalies := a.Anomalies
	if anomalies == nil {
		anomalies = []threat.Anomaly{}
	}
	return ThreatEvent{
		RequestID: sig.RequestID,
		IP:        sig.IP,
		UserID:    sig.UserID,
		TenantID:  sig.TenantID,
		Method:    sig.Method,
		Path:      sig.Path,
		Score:     a.Score,
		Action:    a.Decision.Action,
		Reason:    a.Decision.Reason,
		Severity:  a.Decision.Severity,
		Anomalies: anomalies,
		Timestamp: sig.Timestamp,
	}
}
