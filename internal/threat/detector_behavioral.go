// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/profile"
)

// BehavioralDetector flags first-time methods and paths for identities with
// an established profile.
type BehavioralDetector struct {
	profiles   ProfileReader
	minSamples int64
}

// NewBehavioralDetector creates a behavioral detector.
func NewBehavioralDetector(cfg config.BehavioralConfig, profiles ProfileReader) *BehavioralDetector {
	return &BehavioralDetector{profiles: profiles, minSamples: cfg.MinSamples}
}

// Name implements Detector.
func (d *BehavioralDetector) Name() string { return DetectorBehavioral }

// Detect implements Detector.
func (d *BehavioralDetector) Detect(_ context.Context, sig *RequestSignal) ([]Anomaly, error) {
	snap, ok := d.profiles.Snapshot(sig.Identity())
	if !ok || snap.TotalRequests < d.minSamples {
		return nil, nil
	}

	var out []Anomaly
	if sig.Method != "" && snap.MethodCounts[sig.Method] == 0 {
		out = append(out, Anomaly{
			Type:     AnomalyUnusualMethod,
			Severity: SeverityLow,
			Detector: DetectorBehavioral,
			Evidence: map[string]any{"method": sig.Method, "samples": snap.TotalRequests},
		})
	}
	// A saturated path histogram cannot tell new paths from folded ones.
	if _, saturated := snap.PathCounts[profile.OverflowPathKey]; !saturated && sig.Path != "" && snap.PathCounts[sig.Path] == 0 {
		out = append(out, Anomaly{
			Type:     AnomalyUnusualPath,
			Severity: SeverityLow,
			Detector: DetectorBehavioral,
			Evidence: map[string]any{"path": sig.Path, "samples": snap.TotalRequests},
		})
	}
	return out, nil
}
