// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/threat"
)

// Status is the delivery state of one alert.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// ErrAlertNotFound is returned for unknown alert ids.
var ErrAlertNotFound = errors.New("alert not found")

// Alert is one delivery of one incident to one channel.
type Alert struct {
	ID         string          `json:"id"`
	IncidentID string          `json:"incidentId"`
	Channel    string          `json:"channel"`
	Type       incident.Type   `json:"type"`
	Severity   threat.Severity `json:"severity"`
	Message    string          `json:"message"`
	Details    map[string]any  `json:"details,omitempty"`
	Status     Status          `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"lastError,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	SentAt     *time.Time      `json:"sentAt,omitempty"`
}

// Payload is the body every channel renders.
type Payload struct {
	IncidentID string          `json:"incidentId"`
	Type       incident.Type   `json:"type"`
	Severity   threat.Severity `json:"severity"`
	Timestamp  time.Time       `json:"timestamp"`
	Message    string          `json:"message"`
	Details    map[string]any  `json:"details,omitempty"`
}

// PayloadFor builds the channel payload of an incident.
func PayloadFor(inc *incident.Incident) Payload {
	details := map[string]any{
		"incidentStatus": inc.Status,
		"threatScore":    inc.ThreatScore,
		"ipAddress":      inc.SubjectIP,
	}
	if inc.SubjectUserID != nil {
		details["userId"] = *inc.SubjectUserID
	}
	if inc.DistanceKm != nil {
		details["distanceKm"] = *inc.DistanceKm
	}
	if inc.FailureCount != nil {
		details["failureCount"] = *inc.FailureCount
	}
	if len(inc.Actions) > 0 {
		actions := make([]string, 0, len(inc.Actions))
		for _, a := range inc.Actions {
			actions = append(actions, string(a.Action))
		}
		details["actionsTaken"] = actions
	}
	return Payload{
		IncidentID: inc.ID,
		Type:       inc.Type,
		Severity:   inc.Severity,
		Timestamp:  inc.CreatedAt,
		Message:    inc.Message(),
		Details:    details,
	}
}

func (a *Alert) payload() Payload {
	return Payload{
		IncidentID: a.IncidentID,
		Type:       a.Type,
		Severity:   a.Severity,
		Timestamp:  a.CreatedAt,
		Message:    a.Message,
		Details:    a.Details,
	}
}

// Store persists alerts.
type Store interface {
	CreateAlert(ctx context.Context, a *Alert) error
	UpdateAlert(ctx context.Context, a *Alert) error
	// RetryableAlerts returns FAILED alerts with fewer than maxAttempts
	// attempts, oldest first.
	RetryableAlerts(ctx context.Context, maxAttempts, limit int) ([]*Alert, error)
}
