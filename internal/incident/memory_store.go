// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package incident

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and by the
// development profile when no database is configured.
type MemoryStore struct {
	mu        sync.Mutex
	incidents map[string]*Incident
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]*Incident)}
}

func (s *MemoryStore) CreateIncident(_ context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.incidents[inc.ID]; exists {
		return fmt.Errorf("incident %s already exists", inc.ID)
	}
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

func (s *MemoryStore) AppendAction(_ context.Context, id string, rec ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return ErrIncidentNotFound
	}
	inc.Actions = append(inc.Actions, rec)
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok || inc.Status != from {
		return ErrIncidentNotFound
	}
	inc.Status = to
	inc.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ResolveIncident(_ context.Context, id, resolvedBy, notes string, at time.Time) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	if inc.Status == StatusResolved {
		return nil, ErrIncidentAlreadyResolved
	}
	inc.Status = StatusResolved
	inc.ResolvedBy = resolvedBy
	inc.ResolutionNotes = notes
	inc.ResolvedAt = &at
	inc.UpdatedAt = at
	return inc.Clone(), nil
}

func (s *MemoryStore) GetIncident(_ context.Context, id string) (*Incident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return inc.Clone(), nil
}

// List returns incidents newest first.
func (s *MemoryStore) List() []*Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		out = append(out, inc.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
