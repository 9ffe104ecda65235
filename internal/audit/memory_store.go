// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package audit

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps events in memory, newest last.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveAuditEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

// QueryAuditEvents returns matching events newest first.
func (s *MemoryStore) QueryAuditEvents(_ context.Context, f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []Event{}
	skipped := 0
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !f.matches(&e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteAuditEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.events)
	s.events = slices.DeleteFunc(s.events, func(e Event) bool { return e.Timestamp.Before(cutoff) })
	return int64(before - len(s.events)), nil
}

func (f *Filter) matches(e *Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.Target != "" && e.Target.ID != f.Target {
		return false
	}
	return f.Since.IsZero() || !e.Timestamp.Before(f.Since)
}
