// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"

	"github.com/tomtom215/aegis/internal/config"
)

// DataVolumeDetector flags large declared request bodies. Stateless.
type DataVolumeDetector struct {
	suspicious int64
	critical   int64
}

// NewDataVolumeDetector creates a data volume detector.
func NewDataVolumeDetector(cfg config.DataVolumeConfig) *DataVolumeDetector {
	return &DataVolumeDetector{suspicious: cfg.Suspicious, critical: cfg.Critical}
}

// Name implements Detector.
func (d *DataVolumeDetector) Name() string { return DetectorDataVolume }

// Detect implements Detector.
func (d *DataVolumeDetector) Detect(_ context.Context, sig *RequestSignal) ([]Anomaly, error) {
	if sig.BodySize == nil {
		return nil, nil
	}
	size := *sig.BodySize

	switch {
	case size > d.critical:
		return []Anomaly{{
			Type:     AnomalyDataAccessCritical,
			Severity: SeverityCritical,
			Detector: DetectorDataVolume,
			Evidence: map[string]any{"contentLength": size, "threshold": d.critical},
		}}, nil
	case size > d.suspicious:
		return []Anomaly{{
			Type:     AnomalyDataAccessSuspicious,
			Severity: SeverityMedium,
			Detector: DetectorDataVolume,
			Evidence: map[string]any{"contentLength": size, "threshold": d.suspicious},
		}}, nil
	}
	return nil, nil
}
