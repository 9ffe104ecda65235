// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/aegis/internal/cache"
	"github.com/tomtom215/aegis/internal/config"
)

const earthRadiusKm = 6371.0

type sighting struct {
	point GeoPoint
	at    time.Time
}

// GeographicDetector flags rapid location changes: two sightings of the same
// identity further apart than MaxDistanceKm within Window.
type GeographicDetector struct {
	lastSeen    *cache.LRU[string, sighting]
	maxDistance float64
	window      time.Duration
}

// NewGeographicDetector creates a geographic detector. A nil clock uses
// time.Now.
func NewGeographicDetector(cfg config.GeographicConfig, clock cache.Clock) *GeographicDetector {
	size := cfg.CacheSize
	if size <= 0 {
		size = 100000
	}
	opts := []cache.LRUOption[string, sighting]{}
	if clock != nil {
		opts = append(opts, cache.WithClock[string, sighting](clock))
	}
	return &GeographicDetector{
		lastSeen:    cache.NewLRU[string, sighting](size, cfg.Window, opts...),
		maxDistance: cfg.MaxDistanceKm,
		window:      cfg.Window,
	}
}

// Name implements Detector.
func (d *GeographicDetector) Name() string { return DetectorGeographic }

// Detect compares the signal's location with the identity's last known one
// and always stores the new location.
func (d *GeographicDetector) Detect(_ context.Context, sig *RequestSignal) ([]Anomaly, error) {
	if sig.Geo == nil {
		return nil, nil
	}
	current := sighting{point: *sig.Geo, at: sig.Timestamp}
	prev, ok := d.lastSeen.Swap(sig.Identity(), current)
	if !ok {
		return nil, nil
	}

	elapsed := current.at.Sub(prev.at)
	if elapsed < 0 {
		elapsed = -elapsed
	}
	if elapsed > d.window {
		return nil, nil
	}

	distance := Haversine(prev.point.Lat, prev.point.Lon, current.point.Lat, current.point.Lon)
	if distance <= d.maxDistance {
		return nil, nil
	}

	return []Anomaly{{
		Type:     AnomalyRapidLocationChange,
		Severity: SeverityHigh,
		Detector: DetectorGeographic,
		Evidence: map[string]any{
			"distanceKm":     math.Round(distance*100) / 100,
			"from":           prev.point,
			"to":             current.point,
			"elapsedSeconds": math.Round(elapsed.Seconds()),
		},
	}}, nil
}

// Cleanup drops expired sightings.
func (d *GeographicDetector) Cleanup() int {
	return d.lastSeen.CleanupExpired()
}

// Haversine returns the great-circle distance in kilometres between two
// points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
