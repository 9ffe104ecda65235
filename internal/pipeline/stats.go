// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package pipeline

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tomtom215/aegis/internal/cache"
	"github.com/tomtom215/aegis/internal/threat"
)

const (
	statsWindow  = time.Minute
	statsBuckets = 12
	statsMaxKeys = 20000
	topPaths     = 10

	keyRequests   = "requests"
	keyThreats    = "threats"
	keyScoreMilli = "score_milli"
	prefixMethod  = "method:"
	prefixPath    = "path:"
	prefixAction  = "action:"
	prefixUser    = "user:"
)

var trackedMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

// RealtimeMetrics is the one-minute view of traffic pushed to dashboards.
type RealtimeMetrics struct {
	Timestamp time.Time       `json:"timestamp"`
	Requests  RequestMetrics  `json:"requests"`
	Threats   ThreatMetrics   `json:"threats"`
	Security  SecurityMetrics `json:"security"`
	Users     UserMetrics     `json:"users"`
	Async     AsyncMetrics    `json:"async"`
}

type RequestMetrics struct {
	PerMinute int64            `json:"perMinute"`
	ByMethod  map[string]int64 `json:"byMethod"`
	ByPath    map[string]int64 `json:"byPath"`
}

type ThreatMetrics struct {
	PerMinute int64   `json:"perMinute"`
	AvgScore  float64 `json:"avgScore"`
}

type SecurityMetrics struct {
	Logged     int64 `json:"logged"`
	Monitored  int64 `json:"monitored"`
	Challenges int64 `json:"challenges"`
	Blocked    int64 `json:"blocked"`
}

type UserMetrics struct {
	Active int `json:"active"`
}

type AsyncMetrics struct {
	QueueDepth int   `json:"queueDepth"`
	Dropped    int64 `json:"dropped"`
}

// Stats aggregates scored requests over a sliding one-minute window.
type Stats struct {
	window *cache.SlidingWindowStore
	runner *Runner
	now    cache.Clock
}

// NewStats creates a Stats. runner may be nil; clock nil means time.Now.
func NewStats(runner *Runner, clock cache.Clock) *Stats {
	if clock == nil {
		clock = time.Now
	}
	return &Stats{
		window: cache.NewSlidingWindowStore(statsWindow, statsBuckets, statsMaxKeys, clock),
		runner: runner,
		now:    clock,
	}
}

// Record adds one scored request.
func (s *Stats) Record(sig *threat.RequestSignal, a *threat.Analysis) {
	s.window.IncrementAndCount(keyRequests)
	s.window.IncrementAndCount(prefixMethod + sig.Method)
	s.window.IncrementAndCount(prefixPath + sig.Path)
	s.window.IncrementAndCount(prefixAction + string(a.Decision.Action))
	if sig.UserID != nil && *sig.UserID != "" {
		s.window.IncrementAndCount(prefixUser + *sig.UserID)
	}
	s.window.IncrementBy(keyScoreMilli, int64(math.Round(a.Score*1000)))
	if a.Decision.Action != threat.ActionAllow {
		s.window.IncrementAndCount(keyThreats)
	}
}

// Snapshot computes the current metrics.
func (s *Stats) Snapshot() RealtimeMetrics {
	counts := s.window.Snapshot(1)
	m := RealtimeMetrics{
		Timestamp: s.now().UTC(),
		Requests: RequestMetrics{
			PerMinute: counts[keyRequests],
			ByMethod:  make(map[string]int64, len(trackedMethods)),
			ByPath:    make(map[string]int64),
		},
		Threats: ThreatMetrics{PerMinute: counts[keyThreats]},
		Security: SecurityMetrics{
			Logged:     counts[prefixAction+string(threat.ActionLog)],
			Monitored:  counts[prefixAction+string(threat.ActionMonitor)],
			Challenges: counts[prefixAction+string(threat.ActionChallenge)],
			Blocked:    counts[prefixAction+string(threat.ActionBlock)],
		},
	}
	if n := m.Requests.PerMinute; n > 0 {
		m.Threats.AvgScore = math.Round(float64(counts[keyScoreMilli])/float64(n)) / 1000
	}
	for _, method := range trackedMethods {
		m.Requests.ByMethod[method] = counts[prefixMethod+method]
	}

	type pathCount struct {
		path string
		n    int64
	}
	var paths []pathCount
	for k, n := range counts {
		switch {
		case strings.HasPrefix(k, prefixPath):
			paths = append(paths, pathCount{strings.TrimPrefix(k, prefixPath), n})
		case strings.HasPrefix(k, prefixUser):
			m.Users.Active++
		}
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].n != paths[j].n {
			return paths[i].n > paths[j].n
		}
		return paths[i].path < paths[j].path
	})
	if len(paths) > topPaths {
		paths = paths[:topPaths]
	}
	for _, p := range paths {
		m.Requests.ByPath[p.path] = p.n
	}

	if s.runner != nil {
		m.Async = AsyncMetrics{QueueDepth: s.runner.Depth(), Dropped: s.runner.Dropped()}
	}
	return m
}

// RealtimeMetrics returns Snapshot as an untyped value for the websocket hub
// and the scheduler.
func (s *Stats) RealtimeMetrics(context.Context) (any, error) {
	return s.Snapshot(), nil
}

// Cleanup drops window keys idle for a full minute.
func (s *Stats) Cleanup() int {
	return s.window.CleanupInactive()
}
