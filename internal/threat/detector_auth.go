// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"
	"time"

	"github.com/tomtom215/aegis/internal/cache"
	"github.com/tomtom215/aegis/internal/config"
)

// AuthFailureDetector flags IPs with many recent authentication failures.
// The failure counter is fed by the identity collaborator through
// RecordFailure.
type AuthFailureDetector struct {
	failures   *cache.SlidingWindowStore
	suspicious int64
	critical   int64
}

// NewAuthFailureDetector creates an auth failure detector. A nil clock uses
// time.Now.
func NewAuthFailureDetector(cfg config.AuthFailureConfig, clock cache.Clock) *AuthFailureDetector {
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 100000
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	return &AuthFailureDetector{
		failures:   cache.NewSlidingWindowStore(window, 60, maxKeys, clock),
		suspicious: cfg.Suspicious,
		critical:   cfg.Critical,
	}
}

// Name implements Detector.
func (d *AuthFailureDetector) Name() string { return DetectorAuthFailure }

// RecordFailure adds n failures for ip and returns the window total.
func (d *AuthFailureDetector) RecordFailure(ip string, n int64) int64 {
	if n <= 0 {
		n = 1
	}
	return d.failures.IncrementBy(ip, n)
}

// Failures returns the failure count for ip within the window.
func (d *AuthFailureDetector) Failures(ip string) int64 {
	return d.failures.Count(ip)
}

// Reset clears the failures for ip.
func (d *AuthFailureDetector) Reset(ip string) {
	d.failures.Remove(ip)
}

// Cleanup drops idle counters.
func (d *AuthFailureDetector) Cleanup() int {
	return d.failures.CleanupInactive()
}

// Detect implements Detector.
func (d *AuthFailureDetector) Detect(_ context.Context, sig *RequestSignal) ([]Anomaly, error) {
	count := d.failures.Count(sig.IP)

	var typ AnomalyType
	var sev Severity
	var threshold int64
	switch {
	case count > d.critical:
		typ, sev, threshold = AnomalyAuthFailureCritical, SeverityCritical, d.critical
	case count > d.suspicious:
		typ, sev, threshold = AnomalyAuthFailureSuspicious, SeverityHigh, d.suspicious
	default:
		return nil, nil
	}
	return []Anomaly{{
		Type:     typ,
		Severity: sev,
		Detector: DetectorAuthFailure,
		Evidence: map[string]any{"failures": count, "threshold": threshold},
	}}, nil
}
