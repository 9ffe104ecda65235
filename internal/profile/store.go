// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package profile

import (
	"time"

	"github.com/tomtom215/aegis/internal/cache"
	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/metrics"
)

// Store is a bounded, keyed cache of behavioral profiles. Profiles are
// created lazily, evicted after IdleTTL without activity or under LRU
// pressure once Capacity is reached.
type Store struct {
	profiles       *cache.LRU[string, *Profile]
	recentCapacity int
	loc            *time.Location
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	clock cache.Clock
	loc   *time.Location
}

// WithClock overrides the time source used for TTL accounting.
func WithClock(clock cache.Clock) Option {
	return func(o *storeOptions) { o.clock = clock }
}

// WithLocation sets the zone in which hour-of-day buckets are computed.
func WithLocation(loc *time.Location) Option {
	return func(o *storeOptions) { o.loc = loc }
}

// NewStore creates a profile store.
func NewStore(cfg config.ProfilesConfig, opts ...Option) *Store {
	o := storeOptions{clock: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loc == nil {
		o.loc = time.UTC
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 100000
	}
	recent := cfg.RecentScores
	if recent <= 0 {
		recent = 100
	}
	return &Store{
		profiles: cache.NewLRU[string, *Profile](capacity, cfg.IdleTTL,
			cache.WithClock[string, *Profile](o.clock)),
		recentCapacity: recent,
		loc:            o.loc,
	}
}

// Key derives the profile key for an identity: the user id when present,
// else the client IP.
func Key(userID *string, ip string) string {
	if userID != nil && *userID != "" {
		return "user:" + *userID
	}
	return "ip:" + ip
}

// Record applies one observation to the profile for key, creating it if
// needed.
func (s *Store) Record(key string, obs Observation) {
	p, _ := s.profiles.GetOrCreate(key, func() *Profile {
		return newProfile(s.recentCapacity)
	})
	p.record(obs, s.loc)
	metrics.ProfilesTracked.Set(float64(s.profiles.Len()))
}

// Snapshot returns a copy of the profile for key.
func (s *Store) Snapshot(key string) (Snapshot, bool) {
	p, ok := s.profiles.Peek(key)
	if !ok {
		return Snapshot{}, false
	}
	return p.snapshot(key), true
}

// Range calls fn with a snapshot of every live profile until fn returns
// false. Profiles may be updated concurrently; each snapshot is consistent
// on its own.
func (s *Store) Range(fn func(Snapshot) bool) {
	type item struct {
		key string
		p   *Profile
	}
	var items []item
	s.profiles.Range(func(k string, p *Profile) bool {
		items = append(items, item{key: k, p: p})
		return true
	})
	for _, it := range items {
		if !fn(it.p.snapshot(it.key)) {
			return
		}
	}
}

// Len returns the number of live profiles.
func (s *Store) Len() int {
	return s.profiles.Len()
}

// CleanupExpired drops idle profiles and returns how many were removed.
func (s *Store) CleanupExpired() int {
	n := s.profiles.CleanupExpired()
	metrics.ProfilesTracked.Set(float64(s.profiles.Len()))
	return n
}

// Location returns the zone used for hour buckets.
func (s *Store) Location() *time.Location {
	return s.loc
}
