// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks anomalies and incidents.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns 1 (LOW) to 4 (CRITICAL), 0 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(v string) (Severity, error) {
	s := Severity(strings.ToUpper(strings.TrimSpace(v)))
	if s.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return s, nil
}

// ActionType is the decided response to a request. The order of the
// constants is the severity order.
type ActionType string

const (
	ActionAllow     ActionType = "ALLOW"
	ActionLog       ActionType = "LOG"
	ActionMonitor   ActionType = "MONITOR"
	ActionChallenge ActionType = "CHALLENGE"
	ActionBlock     ActionType = "BLOCK"
)

// Rank returns the position of a in the total order ALLOW < LOG < MONITOR <
// CHALLENGE < BLOCK.
func (a ActionType) Rank() int {
	switch a {
	case ActionLog:
		return 1
	case ActionMonitor:
		return 2
	case ActionChallenge:
		return 3
	case ActionBlock:
		return 4
	default:
		return 0
	}
}

// Severity maps an action to the severity of the incident it opens.
func (a ActionType) Severity() Severity {
	switch a {
	case ActionBlock:
		return SeverityCritical
	case ActionChallenge:
		return SeverityHigh
	case ActionMonitor:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnomalyType names a detector finding.
type AnomalyType string

const (
	AnomalyFrequencySuspicious   AnomalyType = "FREQUENCY_SUSPICIOUS"
	AnomalyFrequencyCritical     AnomalyType = "FREQUENCY_CRITICAL"
	AnomalyRapidLocationChange   AnomalyType = "RAPID_LOCATION_CHANGE"
	AnomalyTemporal              AnomalyType = "TEMPORAL_ANOMALY"
	AnomalyDataAccessSuspicious  AnomalyType = "DATA_ACCESS_SUSPICIOUS"
	AnomalyDataAccessCritical    AnomalyType = "DATA_ACCESS_CRITICAL"
	AnomalyAuthFailureSuspicious AnomalyType = "AUTH_FAILURE_SUSPICIOUS"
	AnomalyAuthFailureCritical   AnomalyType = "AUTH_FAILURE_CRITICAL"
	AnomalyUnusualMethod         AnomalyType = "UNUSUAL_METHOD"
	AnomalyUnusualPath           AnomalyType = "UNUSUAL_PATH"
)

// Detector names.
const (
	DetectorFrequency   = "frequency"
	DetectorGeographic  = "geographic"
	DetectorTemporal    = "temporal"
	DetectorDataVolume  = "data_volume"
	DetectorAuthFailure = "auth_failure"
	DetectorBehavioral  = "behavioral"
)

// Anomaly is an immutable detector finding.
type Anomaly struct {
	Type     AnomalyType    `json:"type"`
	Severity Severity       `json:"severity"`
	Detector string         `json:"detector"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// GeoPoint is a resolved client location.
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
	// Source is "header" or "geoip".
	Source string `json:"source"`
}

// RequestSignal is the normalized snapshot of one inbound request. It is
// built once by the Collector and never modified afterwards.
type RequestSignal struct {
	RequestID string            `json:"requestId"`
	UserID    *string           `json:"userId"`
	Role      *string           `json:"role"`
	SessionID *string           `json:"sessionId"`
	TenantID  *string           `json:"tenantId"`
	IP        string            `json:"ip"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	URL       string            `json:"url"`
	Query     string            `json:"query"`
	Headers   map[string]string `json:"headers"`
	// BodySample is a bounded prefix of the request body.
	BodySample string `json:"-"`
	// BodySize is the declared Content-Length; nil when absent or malformed.
	BodySize  *int64    `json:"bodySize"`
	Timestamp time.Time `json:"timestamp"`
	Geo       *GeoPoint `json:"geo"`
}

// UserIDOr returns the user id or fallback.
func (s *RequestSignal) UserIDOr(fallback string) string {
	if s.UserID == nil || *s.UserID == "" {
		return fallback
	}
	return *s.UserID
}

// Identity returns the stable key used for per-identity state: the user id
// when known, else the IP.
func (s *RequestSignal) Identity() string {
	if s.UserID != nil && *s.UserID != "" {
		return "user:" + *s.UserID
	}
	return "ip:" + s.IP
}

// Decision is the decided action with its metadata.
type Decision struct {
	Action   ActionType `json:"action"`
	Score    float64    `json:"score"`
	Reason   string     `json:"reason"`
	Severity Severity   `json:"severity"`
}

// ScoreBreakdown holds every clamped term of the score formula.
type ScoreBreakdown struct {
	Pattern    float64 `json:"pattern"`
	Behavioral float64 `json:"behavioral"`
	Frequency  float64 `json:"frequency"`
	Geographic float64 `json:"geographic"`
	Temporal   float64 `json:"temporal"`
}

// Analysis is the full result of scoring one request.
type Analysis struct {
	Score           float64          `json:"score"`
	Breakdown       ScoreBreakdown   `json:"breakdown"`
	PatternMatches  map[Category]int `json:"patternMatches"`
	Anomalies       []Anomaly        `json:"anomalies"`
	Detectors       []DetectorResult `json:"detectors"`
	Decision        Decision         `json:"decision"`
	PatternVersion  int              `json:"patternVersion"`
	DurationSeconds float64          `json:"durationSeconds"`
}

// TotalPatternMatches sums the per-category match counts.
func (a *Analysis) TotalPatternMatches() int {
	total := 0
	for _, n := range a.PatternMatches {
		total += n
	}
	return total
}

// HighestSeverity returns the most severe anomaly severity, or "" if there
// are none.
func (a *Analysis) HighestSeverity() Severity {
	var best Severity
	for _, an := range a.Anomalies {
		if an.Severity.Rank() > best.Rank() {
			best = an.Severity
		}
	}
	return best
}
