// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/tomtom215/aegis/internal/alerting"
	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/profile"
	"github.com/tomtom215/aegis/internal/response"
	"github.com/tomtom215/aegis/internal/storage"
)

// ThreatLog reads the persisted threat log.
type ThreatLog interface {
	QueryThreatLogs(ctx context.Context, f storage.ThreatLogFilter) ([]storage.ThreatLogRecord, error)
	ThreatStats(ctx context.Context, since time.Time) (storage.ThreatStats, error)
}

// IncidentLog lists and records incidents.
type IncidentLog interface {
	ListIncidents(ctx context.Context, f storage.IncidentFilter) ([]*incident.Incident, error)
	CountIncidents(ctx context.Context, since time.Time) (storage.IncidentCounts, error)
	CreateIncident(ctx context.Context, inc *incident.Incident) error
}

// AlertLog lists persisted alerts.
type AlertLog interface {
	ListAlerts(ctx context.Context, f storage.AlertFilter) ([]*alerting.Alert, error)
}

// IncidentService is the incident rule engine.
type IncidentService interface {
	Get(ctx context.Context, id string) (*incident.Incident, error)
	Resolve(ctx context.Context, id, resolvedBy, notes string) (*incident.Incident, error)
	Rules() *incident.RuleSet
	UpsertRule(r incident.Rule) (*incident.RuleSet, error)
	DeleteRule(name string) (*incident.RuleSet, error)
}

// AlertService is the alert dispatcher.
type AlertService interface {
	Channels() []string
	DispatchIncident(ctx context.Context, inc *incident.Incident) []alerting.Alert
	RequeueFailed(ctx context.Context) (alerting.RequeueReport, error)
}

// ProfileSource exposes behavioural profiles.
type ProfileSource interface {
	Range(fn func(profile.Snapshot) bool)
	Len() int
}

// AuthFailureRecorder counts authentication failures per IP.
type AuthFailureRecorder interface {
	RecordFailure(ip string, n int64) int64
}

// EnforcementState lists and lifts active response flags.
type EnforcementState interface {
	Blocks(ctx context.Context) ([]response.Entry, error)
	Unblock(ctx context.Context, ip string) (bool, error)
	Reinstate(ctx context.Context, userID string) (bool, error)
}

// RealtimeSource produces the live metrics snapshot.
type RealtimeSource interface {
	RealtimeMetrics(ctx context.Context) (any, error)
}

// AuditTrail records and lists administrative actions.
type AuditTrail interface {
	Log(e *audit.Event)
	Query(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

// HealthCheck is one readiness dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the components the admin API reads and drives. Nil members
// disable the endpoints that need them.
type Deps struct {
	Threats      ThreatLog
	Incidents    IncidentLog
	Alerts       AlertLog
	Engine       IncidentService
	Alerter      AlertService
	Profiles     ProfileSource
	AuthFailures AuthFailureRecorder
	Enforcement  EnforcementState
	Realtime     RealtimeSource
	Audit        AuditTrail
	// ClientIP resolves the caller address recorded in the audit trail.
	// Defaults to the connection's remote host.
	ClientIP     func(*http.Request) string
	HealthChecks []HealthCheck
	Version      string
}

// Handler serves the admin API endpoints.
type Handler struct {
	deps      Deps
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates a handler over deps.
func NewHandler(deps Deps) *Handler {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	if deps.ClientIP == nil {
		deps.ClientIP = remoteHost
	}
	return &Handler{deps: deps, startTime: time.Now(), now: time.Now}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
