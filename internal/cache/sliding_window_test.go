// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package cache

import (
	"sync"
	"testing"
	"time"
)

func TestSlidingWindowCounter_AddReturnsTotal(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sw := NewSlidingWindowCounter(time.Minute, 60, clock.Now)

	for i := int64(1); i <= 5; i++ {
		if got := sw.Add(1); got != i {
			t.Fatalf("Add #%d returned %d", i, got)
		}
	}
	if sw.Count() != 5 {
		t.Errorf("Expected count 5, got %d", sw.Count())
	}
}

func TestSlidingWindowCounter_WindowExpiration(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sw := NewSlidingWindowCounter(time.Minute, 60, clock.Now)
	sw.Add(10)

	clock.Advance(30 * time.Second)
	sw.Add(5)
	if got := sw.Count(); got != 15 {
		t.Errorf("Expected 15 within window, got %d", got)
	}

	clock.Advance(31 * time.Second)
	if got := sw.Count(); got != 5 {
		t.Errorf("Expected first burst to slide out, got %d", got)
	}

	clock.Advance(2 * time.Minute)
	if got := sw.Count(); got != 0 {
		t.Errorf("Expected empty window, got %d", got)
	}
}

func TestSlidingWindowCounter_NoDriftAcrossPartialBuckets(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sw := NewSlidingWindowCounter(10*time.Second, 10, clock.Now)
	sw.Add(1)

	// Nine partial advances of 1.5s cross 13 bucket boundaries in total.
	for i := 0; i < 9; i++ {
		clock.Advance(1500 * time.Millisecond)
		sw.Count()
	}
	if got := sw.Count(); got != 0 {
		t.Errorf("Expected event older than window to be gone, got %d", got)
	}
}

func TestSlidingWindowCounter_Reset(t *testing.T) {
	t.Parallel()

	sw := NewSlidingWindowCounter(time.Minute, 6, nil)
	sw.Add(3)
	sw.Reset()
	if sw.Count() != 0 {
		t.Errorf("Expected 0 after reset, got %d", sw.Count())
	}
}

func TestSlidingWindowStore_IncrementAndCountIsAtomic(t *testing.T) {
	t.Parallel()

	store := NewSlidingWindowStore(time.Minute, 60, 1000, nil)

	const workers, perWorker = 10, 100
	seen := make([]bool, workers*perWorker+1)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n := store.IncrementAndCount("freq:10.0.0.1:anonymous")
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for n := 1; n <= workers*perWorker; n++ {
		if !seen[n] {
			t.Fatalf("count %d never observed; increments were lost or duplicated", n)
		}
	}
}

func TestSlidingWindowStore_KeysAreIndependent(t *testing.T) {
	t.Parallel()

	store := NewSlidingWindowStore(time.Minute, 60, 1000, nil)
	store.IncrementBy("a", 3)
	store.IncrementAndCount("b")

	if store.Count("a") != 3 || store.Count("b") != 1 || store.Count("c") != 0 {
		t.Errorf("unexpected counts a=%d b=%d c=%d", store.Count("a"), store.Count("b"), store.Count("c"))
	}
	if snap := store.Snapshot(2); len(snap) != 1 || snap["a"] != 3 {
		t.Errorf("Expected only 'a' in snapshot, got %v", snap)
	}
}

func TestSlidingWindowStore_MaxKeysAndCleanup(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewSlidingWindowStore(time.Minute, 60, 2, clock.Now)
	store.IncrementAndCount("a")
	store.IncrementAndCount("b")
	store.IncrementAndCount("c")
	if store.Len() != 2 {
		t.Errorf("Expected max keys to bound store, got %d", store.Len())
	}

	clock.Advance(2 * time.Minute)
	if removed := store.CleanupInactive(); removed != 2 {
		t.Errorf("Expected 2 idle counters removed, got %d", removed)
	}
}
