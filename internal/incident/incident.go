// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package incident

import (
	"fmt"
	"time"

	"github.com/tomtom215/aegis/internal/threat"
)

// Status is the incident lifecycle state.
//
//	DETECTED -> ACTIONS_TAKEN -> RESOLVED
//	DETECTED -> RESOLVED            (no rule matched)
type Status string

const (
	StatusDetected     Status = "DETECTED"
	StatusActionsTaken Status = "ACTIONS_TAKEN"
	StatusResolved     Status = "RESOLVED"
)

// Type classifies an incident.
type Type string

const (
	TypeThreatScore       Type = "THREAT_SCORE"
	TypeGeographicAnomaly Type = "GEOGRAPHIC_ANOMALY"
	TypeAuthFailure       Type = "AUTH_FAILURE"
	TypeFrequencyAnomaly  Type = "FREQUENCY_ANOMALY"
	TypeDataAccessAnomaly Type = "DATA_ACCESS_ANOMALY"
	TypeBehavioralAnomaly Type = "BEHAVIORAL_ANOMALY"
	TypeTemporalAnomaly   Type = "TEMPORAL_ANOMALY"
	TypeTest              Type = "TEST"
)

// ActionName is a remediation primitive.
type ActionName string

const (
	ActionBlockIP            ActionName = "BLOCK_IP"
	ActionSuspendUser        ActionName = "SUSPEND_USER"
	ActionIncreaseMonitoring ActionName = "INCREASE_MONITORING"
	ActionForceMFA           ActionName = "FORCE_MFA"
	ActionNotifyAdmin        ActionName = "NOTIFY_ADMIN"
)

// KnownActions lists every primitive.
var KnownActions = []ActionName{
	ActionBlockIP, ActionSuspendUser, ActionIncreaseMonitoring, ActionForceMFA, ActionNotifyAdmin,
}

// ParseActionName validates an action name.
func ParseActionName(s string) (ActionName, error) {
	for _, a := range KnownActions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// ActionResult is the outcome of one primitive. NoOp means the effect was
// already in place.
type ActionResult struct {
	Success bool
	NoOp    bool
	Err     error
}

// ActionRecord is one entry of an incident's append-only action log.
type ActionRecord struct {
	Action     ActionName `json:"action" db:"action"`
	Rule       string     `json:"rule" db:"rule"`
	Success    bool       `json:"success" db:"success"`
	NoOp       bool       `json:"noop" db:"noop"`
	Error      string     `json:"error,omitempty" db:"error"`
	ExecutedAt time.Time  `json:"executedAt" db:"executed_at"`
}

// Incident is a durable record of a security-relevant event. Only the
// Engine changes its status.
type Incident struct {
	ID              string          `json:"id"`
	Type            Type            `json:"type"`
	Severity        threat.Severity `json:"severity"`
	ThreatScore     float64         `json:"threatScore"`
	SubjectIP       string          `json:"subjectIp"`
	SubjectUserID   *string         `json:"subjectUserId"`
	TenantID        *string         `json:"tenantId,omitempty"`
	RequestID       string          `json:"requestId,omitempty"`
	DistanceKm      *float64        `json:"distanceKm,omitempty"`
	FailureCount    *int            `json:"failureCount,omitempty"`
	Details         map[string]any  `json:"details,omitempty"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	ResolvedBy      string          `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time      `json:"resolvedAt,omitempty"`
	ResolutionNotes string          `json:"resolutionNotes,omitempty"`
	Actions         []ActionRecord  `json:"actions"`
}

// UserIDOr returns the subject user or fallback.
func (i *Incident) UserIDOr(fallback string) string {
	if i.SubjectUserID == nil || *i.SubjectUserID == "" {
		return fallback
	}
	return *i.SubjectUserID
}

// Message renders the human-readable alert text.
func (i *Incident) Message() string {
	base := fmt.Sprintf("Security %s Alert: %s", i.Severity, i.Type)
	switch i.Type {
	case TypeThreatScore:
		return fmt.Sprintf("%s - Threat score: %.2f from IP: %s", base, i.ThreatScore, i.SubjectIP)
	case TypeAuthFailure:
		if i.FailureCount != nil {
			return fmt.Sprintf("%s - %d failed authentication attempts from IP: %s", base, *i.FailureCount, i.SubjectIP)
		}
		return fmt.Sprintf("%s - Authentication anomaly from IP: %s", base, i.SubjectIP)
	case TypeGeographicAnomaly:
		if i.DistanceKm != nil {
			return fmt.Sprintf("%s - Location anomaly detected for user: %s (%.0f km)", base, i.UserIDOr("anonymous"), *i.DistanceKm)
		}
		return fmt.Sprintf("%s - Location anomaly detected for user: %s", base, i.UserIDOr("anonymous"))
	case TypeFrequencyAnomaly:
		return fmt.Sprintf("%s - Request rate anomaly from IP: %s", base, i.SubjectIP)
	case TypeDataAccessAnomaly:
		return fmt.Sprintf("%s - Unusual data volume from IP: %s", base, i.SubjectIP)
	case TypeTest:
		return base + " - Test alert, no action required"
	default:
		return base
	}
}

// Clone returns a deep enough copy for handing to other goroutines.
func (i *Incident) Clone() *Incident {
	c := *i
	c.Actions = append([]ActionRecord(nil), i.Actions...)
	if i.Details != nil {
		c.Details = make(map[string]any, len(i.Details))
		for k, v := range i.Details {
			c.Details[k] = v
		}
	}
	return &c
}
