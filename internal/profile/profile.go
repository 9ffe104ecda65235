// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package profile keeps bounded per-identity behavioral profiles: method and
// path histograms, an hour-of-day histogram and a ring of recent threat
// scores.
//
// The Store is the only writer of profiles. Readers get copies through
// Snapshot so detectors never observe a profile mid-update. Locking is two
// level: the LRU index has its own lock and each profile has its own mutex,
// so updates for different identities never contend on a global lock.
package profile

import (
	"sync"
	"time"
)

// maxPathsPerProfile bounds path cardinality per identity. Once reached, new
// paths are folded into OverflowPathKey.
const (
	maxPathsPerProfile = 256
	OverflowPathKey    = "<other>"
)

// Observation is one scored request attributed to an identity.
type Observation struct {
	Method string
	Path   string
	Time   time.Time
	Score  float64
}

// Profile is the mutable per-identity state. Only Store touches it.
type Profile struct {
	mu sync.Mutex

	methodCounts  map[string]int64
	pathCounts    map[string]int64
	hours         [24]int64
	recent        *scoreRing
	firstSeen     time.Time
	lastSeen      time.Time
	totalRequests int64
}

func newProfile(recentCapacity int) *Profile {
	return &Profile{
		methodCounts: make(map[string]int64),
		pathCounts:   make(map[string]int64),
		recent:       newScoreRing(recentCapacity),
	}
}

func (p *Profile) record(obs Observation, loc *time.Location) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.firstSeen.IsZero() {
		p.firstSeen = obs.Time
	}
	if obs.Time.After(p.lastSeen) {
		p.lastSeen = obs.Time
	}
	p.totalRequests++

	if obs.Method != "" {
		p.methodCounts[obs.Method]++
	}
	if obs.Path != "" {
		if _, ok := p.pathCounts[obs.Path]; ok || len(p.pathCounts) < maxPathsPerProfile {
			p.pathCounts[obs.Path]++
		} else {
			p.pathCounts[OverflowPathKey]++
		}
	}
	p.hours[obs.Time.In(loc).Hour()]++
	p.recent.push(obs.Score)
}

func (p *Profile) snapshot(key string) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Key:           key,
		MethodCounts:  make(map[string]int64, len(p.methodCounts)),
		PathCounts:    make(map[string]int64, len(p.pathCounts)),
		HourHistogram: p.hours,
		RecentScores:  p.recent.values(),
		FirstSeen:     p.firstSeen,
		LastSeen:      p.lastSeen,
		TotalRequests: p.totalRequests,
	}
	for k, v := range p.methodCounts {
		s.MethodCounts[k] = v
	}
	for k, v := range p.pathCounts {
		s.PathCounts[k] = v
	}
	return s
}

// Snapshot is an immutable copy of a profile.
type Snapshot struct {
	Key           string           `json:"key"`
	MethodCounts  map[string]int64 `json:"methodCounts"`
	PathCounts    map[string]int64 `json:"pathCounts"`
	HourHistogram [24]int64        `json:"hourHistogram"`
	// RecentScores is ordered oldest first.
	RecentScores  []float64 `json:"recentScores"`
	FirstSeen     time.Time `json:"firstSeen"`
	LastSeen      time.Time `json:"lastSeen"`
	TotalRequests int64     `json:"totalRequests"`
}

// AverageRecent returns the mean of the last n recent scores and how many
// scores were averaged. n <= 0 averages all of them.
func (s Snapshot) AverageRecent(n int) (float64, int) {
	scores := s.RecentScores
	if n > 0 && len(scores) > n {
		scores = scores[len(scores)-n:]
	}
	if len(scores) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores)), len(scores)
}

// scoreRing is a fixed-capacity ring buffer of scores.
type scoreRing struct {
	buf  []float64
	next int
	full bool
}

func newScoreRing(capacity int) *scoreRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &scoreRing{buf: make([]float64, capacity)}
}

func (r *scoreRing) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *scoreRing) values() []float64 {
	if !r.full {
		out := make([]float64, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
