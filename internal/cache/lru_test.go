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

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestLRU_BasicOperations(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](3, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	for key, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		got, found := c.Get(key)
		if !found || got != want {
			t.Errorf("Get(%q) = %d, %v; want %d, true", key, got, found, want)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Expected len 3, got %d", c.Len())
	}
}

func TestLRU_Eviction(t *testing.T) {
	t.Parallel()

	var evicted []string
	c := NewLRU[string, int](3, time.Minute, WithEvictCallback[string, int](func(k string, _ int) {
		evicted = append(evicted, k)
	}))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	c.Get("a")
	c.Set("d", 4)

	if _, found := c.Peek("b"); found {
		t.Error("Expected 'b' to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, found := c.Peek(k); !found {
			t.Errorf("Expected %q to be present", k)
		}
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Errorf("Expected eviction callback for 'b', got %v", evicted)
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", s.Evictions)
	}
}

func TestLRU_TTLExpiration(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewLRU[string, string](10, time.Hour, WithClock[string, string](clock.Now))
	c.Set("ip", "40.7,-74.0")

	clock.Advance(59 * time.Minute)
	if _, found := c.Get("ip"); !found {
		t.Fatal("Expected entry to be live before TTL")
	}

	// Reads do not refresh the TTL.
	clock.Advance(2 * time.Minute)
	if _, found := c.Get("ip"); found {
		t.Error("Expected entry to expire after TTL")
	}
}

func TestLRU_WriteRefreshesTTL(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewLRU[string, int](10, time.Minute, WithClock[string, int](clock.Now))
	c.Set("k", 1)
	clock.Advance(50 * time.Second)
	c.Set("k", 2)
	clock.Advance(50 * time.Second)

	if v, found := c.Get("k"); !found || v != 2 {
		t.Errorf("Expected refreshed entry with value 2, got %d, %v", v, found)
	}
}

func TestLRU_Swap(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](10, time.Minute)
	if _, ok := c.Swap("k", 1); ok {
		t.Error("Expected no previous value on first swap")
	}
	old, ok := c.Swap("k", 2)
	if !ok || old != 1 {
		t.Errorf("Expected previous value 1, got %d, %v", old, ok)
	}
	if v, _ := c.Peek("k"); v != 2 {
		t.Errorf("Expected stored value 2, got %d", v)
	}
}

func TestLRU_GetOrCreate(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, *int](10, 0)
	calls := 0
	create := func() *int { calls++; v := 7; return &v }

	first, created := c.GetOrCreate("k", create)
	if !created {
		t.Error("Expected first call to create")
	}
	second, created := c.GetOrCreate("k", create)
	if created || first != second {
		t.Error("Expected second call to return the existing value")
	}
	if calls != 1 {
		t.Errorf("Expected create to run once, ran %d times", calls)
	}
}

func TestLRU_Update(t *testing.T) {
	t.Parallel()

	c := NewLRU[string, int](10, time.Minute)
	inc := func(old int, _ bool) int { return old + 1 }

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update("n", inc)
		}()
	}
	wg.Wait()

	if v, _ := c.Peek("n"); v != 50 {
		t.Errorf("Expected 50 after concurrent updates, got %d", v)
	}
}

func TestLRU_CleanupExpiredAndRange(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	c := NewLRU[string, int](10, time.Minute, WithClock[string, int](clock.Now))
	c.Set("old", 1)
	clock.Advance(45 * time.Second)
	c.Set("new", 2)
	clock.Advance(30 * time.Second)

	seen := map[string]int{}
	c.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	if _, ok := seen["old"]; ok || seen["new"] != 2 {
		t.Errorf("Range should only visit live entries, got %v", seen)
	}

	if removed := c.CleanupExpired(); removed != 1 {
		t.Errorf("Expected 1 expired entry removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 entry left, got %d", c.Len())
	}
}

func TestLRU_Concurrent(t *testing.T) {
	t.Parallel()

	c := NewLRU[int, int](100, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Set(g*1000+i, i)
				c.Get(g*1000 + i/2)
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 100 {
		t.Errorf("Expected capacity to bound size, got %d", c.Len())
	}
}

func BenchmarkLRU_Set(b *testing.B) {
	c := NewLRU[int, int](10000, time.Minute)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(i%20000, i)
	}
}
