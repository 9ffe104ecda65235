// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"
	"time"

	"github.com/tomtom215/aegis/internal/config"
)

// TemporalDetector flags activity in a cold hour outside business hours:
// the hour is outside [StartHour, EndHour] and the identity has never been
// active in that hour.
type TemporalDetector struct {
	profiles  ProfileReader
	startHour int
	endHour   int
	loc       *time.Location
}

// NewTemporalDetector creates a temporal detector reading hour histograms
// from profiles.
func NewTemporalDetector(cfg config.TemporalConfig, profiles ProfileReader) *TemporalDetector {
	return &TemporalDetector{
		profiles:  profiles,
		startHour: cfg.StartHour,
		endHour:   cfg.EndHour,
		loc:       cfg.Location(),
	}
}

// Name implements Detector.
func (d *TemporalDetector) Name() string { return DetectorTemporal }

// Detect implements Detector.
func (d *TemporalDetector) Detect(_ context.Context, sig *RequestSignal) ([]Anomaly, error) {
	hour := sig.Timestamp.In(d.loc).Hour()
	if hour >= d.startHour && hour <= d.endHour {
		return nil, nil
	}

	var seen int64
	if snap, ok := d.profiles.Snapshot(sig.Identity()); ok {
		seen = snap.HourHistogram[hour]
	}
	if seen != 0 {
		return nil, nil
	}

	return []Anomaly{{
		Type:     AnomalyTemporal,
		Severity: SeverityMedium,
		Detector: DetectorTemporal,
		Evidence: map[string]any{
			"hour":            hour,
			"businessHours":   [2]int{d.startHour, d.endHour},
			"historicalCount": seen,
			"timezone":        d.loc.String(),
		},
	}}, nil
}
