// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

/*
Package threat scores inbound HTTP requests.

A Collector turns a request into an immutable RequestSignal. The Analyzer
then runs the PatternMatcher and every enabled Detector against it, combines
the results with the Scorer and maps the score to an action with the
Decider:

	sig := collector.Collect(r)
	analysis := analyzer.Analyze(ctx, sig)
	switch analysis.Decision.Action {
	case threat.ActionBlock:
	    // reject
	}

Detectors run concurrently under a shared deadline. A detector that errors,
panics or misses the deadline contributes nothing; scoring always completes.

# Score

	score = 0.30*pattern + 0.25*behavioral + 0.20*frequency
	      + 0.15*geographic + 0.10*temporal

Every term is clamped to [0, 1] before weighting and the total is capped at
1. Weights, term constants and action thresholds come from
config.ThreatConfig and can be swapped at runtime with Scorer.Update and
Decider.Update.

# Detectors

  - frequency: requests per (ip, user) in a sliding window
  - geographic: distance between consecutive sightings (haversine)
  - temporal: activity in a cold hour outside business hours
  - data_volume: declared Content-Length
  - auth_failure: authentication failures per IP in a rolling window
  - behavioral: first use of a method or path by an established identity
*/
package threat
