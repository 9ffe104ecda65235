// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"math"
	"sync/atomic"

	"github.com/tomtom215/aegis/internal/config"
)

// Scorer combines pattern matches and anomalies into a score in [0, 1].
// Its settings can be swapped at runtime.
type Scorer struct {
	cfg atomic.Pointer[config.ThreatConfig]
}

// NewScorer creates a scorer.
func NewScorer(cfg config.ThreatConfig) *Scorer {
	s := &Scorer{}
	s.Update(cfg)
	return s
}

// Update replaces the scoring settings.
func (s *Scorer) Update(cfg config.ThreatConfig) {
	s.cfg.Store(&cfg)
}

// Config returns the active settings.
func (s *Scorer) Config() config.ThreatConfig {
	return *s.cfg.Load()
}

// Score computes the weighted score and its per-term breakdown.
//
//	score = w.pattern*pattern + w.behavioral*behavioral + w.frequency*frequency
//	      + w.geographic*geographic + w.temporal*temporal
func (s *Scorer) Score(patterns map[Category]int, anomalies []Anomaly) (float64, ScoreBreakdown) {
	cfg := s.cfg.Load()
	k := cfg.Constants

	total := 0
	for _, n := range patterns {
		total += n
	}

	var b ScoreBreakdown
	b.Pattern = clamp01(float64(total) * k.PatternPerMatch)

	var behavioral float64
	for _, a := range anomalies {
		switch a.Detector {
		case DetectorDataVolume, DetectorAuthFailure, DetectorBehavioral:
			behavioral += severityWeight(cfg.SeverityWeights, a.Severity)
		case DetectorFrequency:
			if a.Type == AnomalyFrequencyCritical {
				b.Frequency = math.Max(b.Frequency, k.FrequencyCritical)
			} else {
				b.Frequency = math.Max(b.Frequency, k.FrequencySuspicious)
			}
		case DetectorGeographic:
			b.Geographic = k.Geographic
		case DetectorTemporal:
			b.Temporal = k.Temporal
		}
	}
	b.Behavioral = clamp01(behavioral)
	b.Frequency = clamp01(b.Frequency)
	b.Geographic = clamp01(b.Geographic)
	b.Temporal = clamp01(b.Temporal)

	w := cfg.Weights
	score := w.Pattern*b.Pattern +
		w.Behavioral*b.Behavioral +
		w.Frequency*b.Frequency +
		w.Geographic*b.Geographic +
		w.Temporal*b.Temporal

	return clamp01(score), b
}

func severityWeight(w config.SeverityWeightsConfig, s Severity) float64 {
	switch s {
	case SeverityCritical:
		return w.Critical
	case SeverityHigh:
		return w.High
	case SeverityMedium:
		return w.Medium
	case SeverityLow:
		return w.Low
	default:
		return 0
	}
}

// clamp01 bounds v to [0, 1]; NaN becomes 0.
func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
