// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/tomtom215/aegis/internal/config"
)

// Decider maps a score to an action using inclusive lower-bound thresholds.
// A score equal to a threshold gets the higher action.
type Decider struct {
	thresholds atomic.Pointer[config.ActionThresholds]
}

// NewDecider creates a decider. Thresholds are expected to be validated
// (strictly ascending) by config.Validate.
func NewDecider(t config.ActionThresholds) *Decider {
	d := &Decider{}
	d.Update(t)
	return d
}

// Update replaces the thresholds.
func (d *Decider) Update(t config.ActionThresholds) {
	d.thresholds.Store(&t)
}

// Decide returns the action for score. Scores outside [0, 1] are clamped
// and NaN is treated as 0.
func (d *Decider) Decide(score float64) Decision {
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(1, score))
	t := d.thresholds.Load()

	action, bound, name := ActionAllow, t.Log, "log"
	switch {
	case score >= t.Block:
		action, bound, name = ActionBlock, t.Block, "block"
	case score >= t.Challenge:
		action, bound, name = ActionChallenge, t.Challenge, "challenge"
	case score >= t.Monitor:
		action, bound, name = ActionMonitor, t.Monitor, "monitor"
	case score >= t.Log:
		action, bound, name = ActionLog, t.Log, "log"
	}

	var reason string
	if action == ActionAllow {
		reason = fmt.Sprintf("threat score %.2f below %s threshold %.2f", score, name, bound)
	} else {
		reason = fmt.Sprintf("threat score %.2f reached %s threshold %.2f", score, name, bound)
	}
	return Decision{
		Action:   action,
		Score:    score,
		Reason:   reason,
		Severity: action.Severity(),
	}
}
