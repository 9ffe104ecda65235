// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"
	"fmt"

	"github.com/tomtom215/aegis/internal/profile"
)

// Detector inspects a signal and reports zero or more anomalies. A detector
// that cannot reach its state returns an error; the Analyzer turns that into
// an empty result so one detector never aborts scoring.
type Detector interface {
	Name() string
	Detect(ctx context.Context, sig *RequestSignal) ([]Anomaly, error)
}

// ProfileReader is the read side of the profile store used by detectors.
type ProfileReader interface {
	Snapshot(key string) (profile.Snapshot, bool)
}

// DetectorError wraps a detector failure.
type DetectorError struct {
	Detector string
	Panic    bool
	Err      error
}

func (e *DetectorError) Error() string {
	if e.Panic {
		return fmt.Sprintf("detector %s panicked: %v", e.Detector, e.Err)
	}
	return fmt.Sprintf("detector %s: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// DetectorResult is the outcome of one detector run. Anomalies is empty
// whenever Err is set or the run timed out.
type DetectorResult struct {
	Name            string    `json:"name"`
	Anomalies       []Anomaly `json:"-"`
	Err             error     `json:"-"`
	Error           string    `json:"error,omitempty"`
	TimedOut        bool      `json:"timedOut,omitempty"`
	DurationSeconds float64   `json:"durationSeconds"`
}

// OK reports whether the detector completed.
func (r DetectorResult) OK() bool {
	return r.Err == nil && !r.TimedOut
}
