// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"github.com/tomtom215/aegis/internal/cache"
	"github.com/tomtom215/aegis/internal/config"
)

// DetectorSet holds the built-in detectors. Stateful detectors are exposed
// so the scheduler can clean them up and the admin API can feed the auth
// failure counter.
type DetectorSet struct {
	Frequency   *FrequencyDetector
	Geographic  *GeographicDetector
	Temporal    *TemporalDetector
	DataVolume  *DataVolumeDetector
	AuthFailure *AuthFailureDetector
	Behavioral  *BehavioralDetector

	enabled []Detector
}

// NewDetectorSet builds every detector. Disabled detectors are still built
// (so counters keep working) but are not returned by Enabled.
func NewDetectorSet(cfg config.DetectorsConfig, profiles ProfileReader, clock cache.Clock) *DetectorSet {
	s := &DetectorSet{
		Frequency:   NewFrequencyDetector(cfg.Frequency, clock),
		Geographic:  NewGeographicDetector(cfg.Geographic, clock),
		Temporal:    NewTemporalDetector(cfg.Temporal, profiles),
		DataVolume:  NewDataVolumeDetector(cfg.DataVolume),
		AuthFailure: NewAuthFailureDetector(cfg.AuthFailure, clock),
		Behavioral:  NewBehavioralDetector(cfg.Behavioral, profiles),
	}

	add := func(on bool, d Detector) {
		if on {
			s.enabled = append(s.enabled, d)
		}
	}
	add(cfg.Frequency.Enabled, s.Frequency)
	add(cfg.Geographic.Enabled, s.Geographic)
	add(cfg.Temporal.Enabled, s.Temporal)
	add(cfg.DataVolume.Enabled, s.DataVolume)
	add(cfg.AuthFailure.Enabled, s.AuthFailure)
	add(cfg.Behavioral.Enabled, s.Behavioral)
	return s
}

// Enabled returns the enabled detectors in a fixed order.
func (s *DetectorSet) Enabled() []Detector {
	out := make([]Detector, len(s.enabled))
	copy(out, s.enabled)
	return out
}

// Cleanup drops idle detector state and returns how many entries were
// removed.
func (s *DetectorSet) Cleanup() int {
	return s.Frequency.Cleanup() + s.Geographic.Cleanup() + s.AuthFailure.Cleanup()
}
