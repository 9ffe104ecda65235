// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package response

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryState keeps flags in a mutex-guarded map. Flags are lost on
// restart.
type MemoryState struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
	closed  bool
}

// NewMemoryState creates an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{entries: make(map[string]Entry), now: time.Now}
}

// NewMemoryStateWithClock is NewMemoryState with an injected clock.
func NewMemoryStateWithClock(now func() time.Time) *MemoryState {
	s := NewMemoryState()
	s.now = now
	return s
}

func (s *MemoryState) SetIfAbsent(_ context.Context, entry Entry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStateClosed
	}
	now := s.now()
	if existing, ok := s.entries[entry.Key]; ok && !existing.Expired(now) {
		return false, nil
	}
	entry.CreatedAt = now
	entry.ExpiresAt = nil
	if ttl > 0 {
		exp := now.Add(ttl)
		entry.ExpiresAt = &exp
	}
	s.entries[entry.Key] = entry
	return true, nil
}

func (s *MemoryState) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, false, ErrStateClosed
	}
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if e.Expired(s.now()) {
		delete(s.entries, key)
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *MemoryState) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStateClosed
	}
	e, ok := s.entries[key]
	delete(s.entries, key)
	return ok && !e.Expired(s.now()), nil
}

func (s *MemoryState) List(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStateClosed
	}
	now := s.now()
	var out []Entry
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && !e.Expired(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryState) Cleanup(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStateClosed
	}
	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryState) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}
