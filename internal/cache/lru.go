// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

type lruEntry[K comparable, V any] struct {
	key       K
	value     V
	prev      *lruEntry[K, V]
	next      *lruEntry[K, V]
	expiresAt time.Time
}

// LRU is a thread-safe least-recently-used cache with an idle TTL.
//
// Operations are O(1): a hashmap indexes nodes of a doubly-linked list whose
// head is the most recently used entry. Expiry is lazy; CleanupExpired sweeps
// the list from the cold end. Writes (Set, Swap, GetOrCreate, Update) refresh
// an entry's TTL, plain reads do not.
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration
	now      Clock
	onEvict  func(K, V)

	items map[K]*lruEntry[K, V]
	head  *lruEntry[K, V]
	tail  *lruEntry[K, V]

	hits      int64
	misses    int64
	evictions int64
}

// LRUOption configures an LRU.
type LRUOption[K comparable, V any] func(*LRU[K, V])

// WithClock overrides the time source.
func WithClock[K comparable, V any](clock Clock) LRUOption[K, V] {
	return func(c *LRU[K, V]) { c.now = clock }
}

// WithEvictCallback registers fn to be called, with the lock held, whenever
// an entry leaves the cache through capacity pressure or expiry.
func WithEvictCallback[K comparable, V any](fn func(K, V)) LRUOption[K, V] {
	return func(c *LRU[K, V]) { c.onEvict = fn }
}

// NewLRU creates a cache holding at most capacity entries, each expiring
// ttl after its last write. A non-positive ttl disables expiry.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration, opts ...LRUOption[K, V]) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 10000
	}
	c := &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[K]*lruEntry[K, V]),
		head:     &lruEntry[K, V]{},
		tail:     &lruEntry[K, V]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value for key and marks it recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.moveToFront(entry)
	c.hits++
	return entry.value, true
}

// Peek returns the value for key without touching recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set adds or replaces the value for key.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value)
}

// Swap stores value and returns the previous live value, if any, as one
// atomic step.
func (c *LRU[K, V]) Swap(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var old V
	entry, ok := c.lookup(key)
	if ok {
		old = entry.value
	}
	c.store(key, value)
	return old, ok
}

// GetOrCreate returns the live value for key, creating it with create when
// absent. created reports whether create ran.
func (c *LRU[K, V]) GetOrCreate(key K, create func() V) (value V, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.lookup(key); ok {
		c.touch(entry)
		c.hits++
		return entry.value, false
	}
	c.misses++
	value = create()
	c.store(key, value)
	return value, true
}

// Update replaces the value for key with fn(old, found) atomically and
// returns the new value.
func (c *LRU[K, V]) Update(key K, fn func(old V, found bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	var old V
	entry, ok := c.lookup(key)
	if ok {
		old = entry.value
	}
	next := fn(old, ok)
	c.store(key, next)
	return next
}

// Remove deletes key. Returns true if a live entry was removed.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.lookup(key); ok {
		c.removeEntry(entry)
		return true
	}
	return false
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Range calls fn for each live entry from most to least recently used until
// fn returns false. fn must not call back into the cache.
func (c *LRU[K, V]) Range(fn func(K, V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.head.next; e != c.tail; e = e.next {
		if c.expired(e, now) {
			continue
		}
		if !fn(e.key, e.value) {
			return
		}
	}
}

// CleanupExpired removes expired entries and returns how many were removed.
func (c *LRU[K, V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.tail.prev; e != c.head; {
		prev := e.prev
		if c.expired(e, now) {
			c.evict(e)
			removed++
		}
		e = prev
	}
	return removed
}

// Clear removes all entries without invoking the eviction callback.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*lruEntry[K, V])
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Stats reports cumulative hit, miss and eviction counts with the current size.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: len(c.items)}
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// Internal methods (must be called with lock held)

func (c *LRU[K, V]) lookup(key K) (*lruEntry[K, V], bool) {
	entry, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if c.expired(entry, c.now()) {
		c.evict(entry)
		return nil, false
	}
	return entry, true
}

func (c *LRU[K, V]) store(key K, value V) {
	if entry, ok := c.items[key]; ok {
		entry.value = value
		c.touch(entry)
		return
	}
	entry := &lruEntry[K, V]{key: key, value: value}
	c.items[key] = entry
	c.addToFront(entry)
	c.touch(entry)
	for len(c.items) > c.capacity {
		c.evict(c.tail.prev)
	}
}

func (c *LRU[K, V]) touch(entry *lruEntry[K, V]) {
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.moveToFront(entry)
}

func (c *LRU[K, V]) expired(entry *lruEntry[K, V], now time.Time) bool {
	return c.ttl > 0 && now.After(entry.expiresAt)
}

func (c *LRU[K, V]) addToFront(entry *lruEntry[K, V]) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *LRU[K, V]) moveToFront(entry *lruEntry[K, V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *LRU[K, V]) removeEntry(entry *lruEntry[K, V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *LRU[K, V]) evict(entry *lruEntry[K, V]) {
	c.removeEntry(entry)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
}
