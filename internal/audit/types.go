// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType names an administrative action.
type EventType string

const (
	EventIncidentResolved    EventType = "incident.resolved"
	EventRuleCreated         EventType = "rule.created"
	EventRuleUpdated         EventType = "rule.updated"
	EventRuleDeleted         EventType = "rule.deleted"
	EventBlockLifted         EventType = "block.lifted"
	EventSuspensionLifted    EventType = "suspension.lifted"
	EventAuthFailureRecorded EventType = "auth_failure.recorded"
	EventTestAlertSent       EventType = "alert.test"
	EventAlertsRequeued      EventType = "alert.requeued"
	EventConfigReloaded      EventType = "config.reloaded"
)

// Outcome indicates whether the action took effect.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Actor is who performed the action. System actions use ActorSystem.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// ActorSystem identifies actions taken by Aegis itself.
var ActorSystem = Actor{ID: "system", Role: "system"}

// Target is the object of the action.
type Target struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event is one audit trail entry.
type Event struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        EventType       `json:"type"`
	Outcome     Outcome         `json:"outcome"`
	Actor       Actor           `json:"actor"`
	Target      Target          `json:"target"`
	SourceIP    string          `json:"sourceIp,omitempty"`
	RequestID   string          `json:"requestId,omitempty"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Filter narrows Query. Zero fields do not constrain.
type Filter struct {
	Types   []EventType
	ActorID string
	Target  string
	Since   time.Time
	Limit   int
	Offset  int
}

// Store persists audit events.
type Store interface {
	SaveAuditEvent(ctx context.Context, e *Event) error
	QueryAuditEvents(ctx context.Context, f Filter) ([]Event, error)
	DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
