// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"

	"github.com/tomtom215/aegis/internal/cache"
	"github.com/tomtom215/aegis/internal/config"
)

// FrequencyDetector counts requests per (ip, user) in a sliding window.
type FrequencyDetector struct {
	counters   *cache.SlidingWindowStore
	suspicious int64
	critical   int64
}

// NewFrequencyDetector creates a frequency detector. A nil clock uses
// time.Now.
func NewFrequencyDetector(cfg config.FrequencyConfig, clock cache.Clock) *FrequencyDetector {
	buckets := cfg.Buckets
	if buckets <= 0 {
		buckets = 60
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 100000
	}
	return &FrequencyDetector{
		counters:   cache.NewSlidingWindowStore(cfg.Window, buckets, maxKeys, clock),
		suspicious: cfg.Suspicious,
		critical:   cfg.Critical,
	}
}

// Name implements Detector.
func (d *FrequencyDetector) Name() string { return DetectorFrequency }

// Detect records the request and flags the key when its window count
// exceeds a threshold.
func (d *FrequencyDetector) Detect(_ context.Context, sig *RequestSignal) ([]Anomaly, error) {
	count := d.counters.IncrementAndCount(frequencyKey(sig))

	var typ AnomalyType
	var sev Severity
	switch {
	case count > d.critical:
		typ, sev = AnomalyFrequencyCritical, SeverityCritical
	case count > d.suspicious:
		typ, sev = AnomalyFrequencySuspicious, SeverityMedium
	default:
		return nil, nil
	}
	return []Anomaly{{
		Type:     typ,
		Severity: sev,
		Detector: DetectorFrequency,
		Evidence: map[string]any{
			"count":     count,
			"threshold": d.thresholdFor(sev),
		},
	}}, nil
}

func (d *FrequencyDetector) thresholdFor(sev Severity) int64 {
	if sev == SeverityCritical {
		return d.critical
	}
	return d.suspicious
}

// Count returns the current window count for a signal's key.
func (d *FrequencyDetector) Count(sig *RequestSignal) int64 {
	return d.counters.Count(frequencyKey(sig))
}

// Cleanup drops idle counters and returns how many were removed.
func (d *FrequencyDetector) Cleanup() int {
	return d.counters.CleanupInactive()
}

// Len returns the number of tracked keys.
func (d *FrequencyDetector) Len() int {
	return d.counters.Len()
}

func frequencyKey(sig *RequestSignal) string {
	return "freq:" + sig.IP + ":" + sig.UserIDOr("anonymous")
}
