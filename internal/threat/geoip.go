// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package threat

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/tomtom215/aegis/internal/cache"
)

const (
	geoCacheSize = 10000
	geoCacheTTL  = time.Hour
)

// ErrNoLocation is returned when the database has no coordinates for an IP.
var ErrNoLocation = errors.New("geoip: no location for address")

// GeoIPResolver resolves IPs with a MaxMind GeoIP2 or GeoLite2 City
// database.
// Lookups are memoized per address, including misses.
type GeoIPResolver struct {
	db   *geoip2.Reader
	memo *cache.LRU[netip.Addr, geoResult]
}

type geoResult struct {
	point *GeoPoint
	err   error
}

// OpenGeoIP opens the City database at path.
func OpenGeoIP(path string) (*GeoIPResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPResolver{db: db, memo: cache.NewLRU[netip.Addr, geoResult](geoCacheSize, geoCacheTTL)}, nil
}

// Lookup implements GeoResolver.
func (g *GeoIPResolver) Lookup(ip netip.Addr) (*GeoPoint, error) {
	if res, ok := g.memo.Get(ip); ok {
		return res.point, res.err
	}
	point, err := g.lookup(ip)
	if !errors.Is(err, ErrNoLocation) && err != nil {
		return nil, err
	}
	g.memo.Set(ip, geoResult{point: point, err: err})
	return point, err
}

func (g *GeoIPResolver) lookup(ip netip.Addr) (*GeoPoint, error) {
	record, err := g.db.City(net.IP(ip.AsSlice()))
	if err != nil {
		return nil, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return nil, ErrNoLocation
	}
	return &GeoPoint{
		Lat:     record.Location.Latitude,
		Lon:     record.Location.Longitude,
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
		Source:  "geoip",
	}, nil
}

// Close releases the database.
func (g *GeoIPResolver) Close() error {
	return g.db.Close()
}
