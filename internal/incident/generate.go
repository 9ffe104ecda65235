// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package incident

import (
	"github.com/google/uuid"

	"github.com/tomtom215/aegis/internal/threat"
)

// TypeForAnomaly maps a detector finding to its incident family.
func TypeForAnomaly(t threat.AnomalyType) Type {
	switch t {
	case threat.AnomalyRapidLocationChange:
		return TypeGeographicAnomaly
	case threat.AnomalyAuthFailureSuspicious, threat.AnomalyAuthFailureCritical:
		return TypeAuthFailure
	case threat.AnomalyFrequencySuspicious, threat.AnomalyFrequencyCritical:
		return TypeFrequencyAnomaly
	case threat.AnomalyDataAccessSuspicious, threat.AnomalyDataAccessCritical:
		return TypeDataAccessAnomaly
	case threat.AnomalyTemporal:
		return TypeTemporalAnomaly
	default:
		return TypeBehavioralAnomaly
	}
}

// FromAnalysis derives the incidents a scored request opens: one
// THREAT_SCORE incident for any non-ALLOW decision, plus one per anomaly
// at or above minSeverity. The returned incidents are not yet persisted.
func FromAnalysis(sig *threat.RequestSignal, a *threat.Analysis, minSeverity threat.Severity) []*Incident {
	if sig == nil || a == nil {
		return nil
	}
	var out []*Incident

	if a.Decision.Action != threat.ActionAllow {
		inc := newIncident(sig, TypeThreatScore, a.Decision.Action.Severity(), a.Score)
		inc.Details = map[string]any{
			"action":         a.Decision.Action,
			"reason":         a.Decision.Reason,
			"breakdown":      a.Breakdown,
			"patternMatches": a.TotalPatternMatches(),
			"method":         sig.Method,
			"path":           sig.Path,
		}
		out = append(out, inc)
	}

	for _, an := range a.Anomalies {
		if !an.Severity.AtLeast(minSeverity) {
			continue
		}
		inc := newIncident(sig, TypeForAnomaly(an.Type), an.Severity, a.Score)
		inc.Details = map[string]any{
			"anomaly":  an.Type,
			"detector": an.Detector,
			"evidence": an.Evidence,
		}
		switch inc.Type {
		case TypeGeographicAnomaly:
			if d, ok := evidenceFloat(an.Evidence, "distanceKm"); ok {
				inc.DistanceKm = &d
			}
		case TypeAuthFailure:
			if n, ok := evidenceFloat(an.Evidence, "failures"); ok {
				c := int(n)
				inc.FailureCount = &c
			}
		}
		out = append(out, inc)
	}
	return out
}

// NewTestIncident builds the incident used by the test-alert endpoint.
func NewTestIncident(severity threat.Severity, requestedBy string) *Incident {
	inc := &Incident{
		ID:        uuid.NewString(),
		Type:      TypeTest,
		Severity:  severity,
		SubjectIP: "127.0.0.1",
		Status:    StatusDetected,
		Details:   map[string]any{"requestedBy": requestedBy},
	}
	return inc
}

func newIncident(sig *threat.RequestSignal, t Type, sev threat.Severity, score float64) *Incident {
	inc := &Incident{
		ID:          uuid.NewString(),
		Type:        t,
		Severity:    sev,
		ThreatScore: score,
		SubjectIP:   sig.IP,
		RequestID:   sig.RequestID,
		Status:      StatusDetected,
		CreatedAt:   sig.Timestamp,
		UpdatedAt:   sig.Timestamp,
	}
	if sig.UserID != nil {
		u := *sig.UserID
		inc.SubjectUserID = &u
	}
	if sig.TenantID != nil {
		t := *sig.TenantID
		inc.TenantID = &t
	}
	return inc
}

func evidenceFloat(ev map[string]any, key string) (float64, bool) {
	switch v := ev[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}
