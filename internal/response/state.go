// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package response

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/aegis/internal/config"
)

// ErrStateClosed is returned after Close.
var ErrStateClosed = errors.New("response: state store closed")

// Key prefixes of the enforcement flags.
const (
	PrefixBlockedIP     = "blocked_ip:"
	PrefixSuspendedUser = "suspended_user:"
	PrefixMonitoring    = "high_monitoring:"
	PrefixForceMFA      = "force_mfa:"
	PrefixNotified      = "admin_notified:"
)

// Entry is one enforcement flag.
type Entry struct {
	Key        string     `json:"key"`
	Subject    string     `json:"subject"`
	Reason     string     `json:"reason,omitempty"`
	IncidentID string     `json:"incidentId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the entry has lapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// State stores TTL'd enforcement flags. SetIfAbsent must be atomic so that
// repeated actions are no-ops.
type State interface {
	// SetIfAbsent stores entry under entry.Key unless a live entry already
	// exists. ttl of zero means no expiry. It reports whether it stored.
	SetIfAbsent(ctx context.Context, entry Entry, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (Entry, bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Cleanup drops expired entries and returns how many were removed.
	Cleanup(ctx context.Context) (int, error)
	Close() error
}

// NewState opens the backend selected by cfg.
func NewState(cfg config.StateConfig) (State, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryState(), nil
	case "badger":
		return OpenBadgerState(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
