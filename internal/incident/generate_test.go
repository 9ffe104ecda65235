// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package incident

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/aegis/internal/threat"
)

func scoredSignal() *threat.RequestSignal {
	return &threat.RequestSignal{
		RequestID: "req-1",
		UserID:    strPtr("user-9"),
		IP:        "198.51.100.20",
		Method:    "GET",
		Path:      "/api/patients",
		Timestamp: time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC),
	}
}

func TestFromAnalysis(t *testing.T) {
	t.Parallel()

	sig := scoredSignal()

	t.Run("allow without anomalies opens nothing", func(t *testing.T) {
		t.Parallel()
		a := &threat.Analysis{Score: 0.12, Decision: threat.Decision{Action: threat.ActionAllow}}
		if got := FromAnalysis(sig, a, threat.SeverityHigh); len(got) != 0 {
			t.Errorf("got %d incidents, want 0", len(got))
		}
	})

	t.Run("block opens a critical threat score incident", func(t *testing.T) {
		t.Parallel()
		a := &threat.Analysis{Score: 0.93, Decision: threat.Decision{Action: threat.ActionBlock}}
		got := FromAnalysis(sig, a, threat.SeverityHigh)
		if len(got) != 1 {
			t.Fatalf("got %d incidents, want 1", len(got))
		}
		inc := got[0]
		if inc.Type != TypeThreatScore || inc.Severity != threat.SeverityCritical {
			t.Errorf("incident = %s/%s, want THREAT_SCORE/CRITICAL", inc.Type, inc.Severity)
		}
		if inc.SubjectIP != sig.IP || inc.UserIDOr("") != "user-9" || inc.RequestID != "req-1" {
			t.Errorf("subject not copied: %+v", inc)
		}
		if inc.Status != StatusDetected || inc.ID == "" {
			t.Errorf("new incident = %+v", inc)
		}
	})

	t.Run("anomalies at or above the minimum open typed incidents", func(t *testing.T) {
		t.Parallel()
		a := &threat.Analysis{
			Score:    0.45,
			Decision: threat.Decision{Action: threat.ActionLog},
			Anomalies: []threat.Anomaly{
				{Type: threat.AnomalyRapidLocationChange, Severity: threat.SeverityHigh, Detector: threat.DetectorGeographic,
					Evidence: map[string]any{"distanceKm": 3935.75}},
				{Type: threat.AnomalyAuthFailureCritical, Severity: threat.SeverityCritical, Detector: threat.DetectorAuthFailure,
					Evidence: map[string]any{"failures": int64(21)}},
				{Type: threat.AnomalyTemporal, Severity: threat.SeverityMedium, Detector: threat.DetectorTemporal},
			},
		}
		got := FromAnalysis(sig, a, threat.SeverityHigh)
		if len(got) != 3 {
			t.Fatalf("got %d incidents, want 3 (score + geo + auth)", len(got))
		}
		if got[0].Type != TypeThreatScore || got[0].Severity != threat.SeverityLow {
			t.Errorf("first incident = %s/%s, want THREAT_SCORE/LOW", got[0].Type, got[0].Severity)
		}
		geo := got[1]
		if geo.Type != TypeGeographicAnomaly || geo.DistanceKm == nil || *geo.DistanceKm != 3935.75 {
			t.Errorf("geo incident = %+v", geo)
		}
		auth := got[2]
		if auth.Type != TypeAuthFailure || auth.FailureCount == nil || *auth.FailureCount != 21 {
			t.Errorf("auth incident = %+v", auth)
		}
	})
}

func TestIncidentMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		inc  Incident
		want string
	}{
		{"threat score",
			Incident{Type: TypeThreatScore, Severity: threat.SeverityCritical, ThreatScore: 0.934, SubjectIP: "10.1.1.1"},
			"Security CRITICAL Alert: THREAT_SCORE - Threat score: 0.93 from IP: 10.1.1.1"},
		{"geographic",
			Incident{Type: TypeGeographicAnomaly, Severity: threat.SeverityHigh, SubjectUserID: strPtr("u1")},
			"Security HIGH Alert: GEOGRAPHIC_ANOMALY - Location anomaly detected for user: u1"},
		{"auth failures",
			Incident{Type: TypeAuthFailure, Severity: threat.SeverityHigh, SubjectIP: "10.1.1.2", FailureCount: intPtr(6)},
			"Security HIGH Alert: AUTH_FAILURE - 6 failed authentication attempts from IP: 10.1.1.2"},
		{"other", Incident{Type: TypeBehavioralAnomaly, Severity: threat.SeverityLow},
			"Security LOW Alert: BEHAVIORAL_ANOMALY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.inc.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIncidentClone_Independent(t *testing.T) {
	t.Parallel()

	inc := &Incident{ID: "x", Details: map[string]any{"k": 1}, Actions: []ActionRecord{{Action: ActionBlockIP}}}
	c := inc.Clone()
	c.Details["k"] = 2
	c.Actions[0].Action = ActionForceMFA
	if inc.Details["k"] != 1 || inc.Actions[0].Action != ActionBlockIP {
		t.Error("clone shares state with original")
	}
	if !strings.HasPrefix(NewTestIncident(threat.SeverityLow, "ops").Message(), "Security LOW Alert: TEST") {
		t.Error("test incident message")
	}
}
