// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package alerting

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps alerts in process.
type MemoryStore struct {
	mu     sync.Mutex
	alerts map[string]*Alert
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*Alert)}
}

func (s *MemoryStore) CreateAlert(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.alerts[a.ID] = &c
	return nil
}

func (s *MemoryStore) UpdateAlert(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; !ok {
		return ErrAlertNotFound
	}
	c := *a
	s.alerts[a.ID] = &c
	return nil
}

func (s *MemoryStore) RetryableAlerts(_ context.Context, maxAttempts, limit int) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Alert
	for _, a := range s.alerts {
		if a.Status == StatusFailed && a.Attempts < maxAttempts {
			c := *a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ForIncident returns the alerts of one incident ordered by channel.
func (s *MemoryStore) ForIncident(incidentID string) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Alert
	for _, a := range s.alerts {
		if a.IncidentID == incidentID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}
