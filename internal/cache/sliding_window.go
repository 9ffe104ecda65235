// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter counts events over a sliding window divided into
// fixed buckets. Resolution is one bucket: events older than the window
// drop out a bucket at a time.
//
// Complexity:
//   - Increment: O(1) amortized
//   - Count: O(k) where k = number of buckets
type SlidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64
	bucketSize time.Duration
	numBuckets int
	current    int
	bucketTime time.Time // start of the current bucket
	now        Clock
}

// NewSlidingWindowCounter creates a counter over windowSize split into
// numBuckets buckets.
//
// NewSlidingWindowCounter(time.Minute, 60, time.Now) counts the last minute
// at one-second resolution.
func NewSlidingWindowCounter(windowSize time.Duration, numBuckets int, clock Clock) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 60
	}
	if windowSize <= 0 {
		windowSize = time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	bucketSize := windowSize / time.Duration(numBuckets)
	if bucketSize <= 0 {
		bucketSize = time.Nanosecond
	}
	return &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: bucketSize,
		numBuckets: numBuckets,
		bucketTime: clock(),
		now:        clock,
	}
}

// Add adds delta to the current bucket and returns the window total
// including it. The increment and the read happen under one lock, so
// concurrent callers each observe a distinct total.
func (sw *SlidingWindowCounter) Add(delta int64) int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	sw.buckets[sw.current] += delta
	return sw.sum()
}

// Count returns the sum of all buckets in the window.
func (sw *SlidingWindowCounter) Count() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.advance()
	return sw.sum()
}

// Reset clears all buckets.
func (sw *SlidingWindowCounter) Reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	clear(sw.buckets)
	sw.current = 0
	sw.bucketTime = sw.now()
}

func (sw *SlidingWindowCounter) sum() int64 {
	var total int64
	for _, n := range sw.buckets {
		total += n
	}
	return total
}

// advance rotates out buckets that have fallen out of the window.
// Must be called with lock held.
func (sw *SlidingWindowCounter) advance() {
	elapsed := sw.now().Sub(sw.bucketTime)
	steps := int(elapsed / sw.bucketSize)
	if steps <= 0 {
		return
	}
	if steps >= sw.numBuckets {
		clear(sw.buckets)
		sw.current = 0
	} else {
		for i := 0; i < steps; i++ {
			sw.current = (sw.current + 1) % sw.numBuckets
			sw.buckets[sw.current] = 0
		}
	}
	// Keep bucket boundaries aligned to the original start so that partial
	// buckets do not accumulate drift.
	sw.bucketTime = sw.bucketTime.Add(time.Duration(steps) * sw.bucketSize)
}

// SlidingWindowStore keeps one SlidingWindowCounter per key. Keys are held
// in an LRU bounded by maxKeys whose idle TTL equals the window, so a key
// with no traffic for a full window is dropped.
//
//	store := NewSlidingWindowStore(time.Minute, 60, 100000, nil)
//	n := store.IncrementAndCount("freq:203.0.113.7:anonymous")
type SlidingWindowStore struct {
	counters   *LRU[string, *SlidingWindowCounter]
	windowSize time.Duration
	numBuckets int
	now        Clock
}

// NewSlidingWindowStore creates a store for sliding window counters.
// A nil clock uses time.Now.
func NewSlidingWindowStore(windowSize time.Duration, numBuckets, maxKeys int, clock Clock) *SlidingWindowStore {
	if clock == nil {
		clock = time.Now
	}
	return &SlidingWindowStore{
		counters:   NewLRU[string, *SlidingWindowCounter](maxKeys, windowSize, WithClock[string, *SlidingWindowCounter](clock)),
		windowSize: windowSize,
		numBuckets: numBuckets,
		now:        clock,
	}
}

// IncrementAndCount records one event for key and returns the number of
// events for key within the window, this one included.
func (s *SlidingWindowStore) IncrementAndCount(key string) int64 {
	return s.IncrementBy(key, 1)
}

// IncrementBy records delta events for key and returns the window total.
func (s *SlidingWindowStore) IncrementBy(key string, delta int64) int64 {
	counter, _ := s.counters.GetOrCreate(key, func() *SlidingWindowCounter {
		return NewSlidingWindowCounter(s.windowSize, s.numBuckets, s.now)
	})
	return counter.Add(delta)
}

// Count returns the count for key within the window without recording.
func (s *SlidingWindowStore) Count(key string) int64 {
	counter, ok := s.counters.Peek(key)
	if !ok {
		return 0
	}
	return counter.Count()
}

// Remove drops the counter for key.
func (s *SlidingWindowStore) Remove(key string) {
	s.counters.Remove(key)
}

// Len returns the number of tracked keys.
func (s *SlidingWindowStore) Len() int {
	return s.counters.Len()
}

// CleanupInactive removes counters idle for a whole window and returns how
// many were removed.
func (s *SlidingWindowStore) CleanupInactive() int {
	return s.counters.CleanupExpired()
}

// Snapshot returns the current count of every live key with at least min
// events.
func (s *SlidingWindowStore) Snapshot(minCount int64) map[string]int64 {
	keys := make([]string, 0)
	counters := make([]*SlidingWindowCounter, 0)
	s.counters.Range(func(k string, c *SlidingWindowCounter) bool {
		keys = append(keys, k)
		counters = append(counters, c)
		return true
	})
	out := make(map[string]int64, len(keys))
	for i, c := range counters {
		if n := c.Count(); n >= minCount {
			out[keys[i]] = n
		}
	}
	return out
}
