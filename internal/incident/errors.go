// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package incident

import (
	"errors"
	"fmt"
)

var (
	// ErrIncidentAlreadyResolved is returned when resolving a resolved
	// incident.
	ErrIncidentAlreadyResolved = errors.New("incident already resolved")

	// ErrIncidentNotFound is returned for unknown incident ids.
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrResolutionIncomplete is returned when a resolution lacks a
	// resolver or notes.
	ErrResolutionIncomplete = errors.New("resolution requires resolver and notes")

	// ErrDuplicatePriority matches every *DuplicatePriorityError.
	ErrDuplicatePriority = errors.New("duplicate rule priority")

	// ErrInvalidRule is returned for malformed rules.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrRuleNotFound is returned when updating or deleting an unknown rule.
	ErrRuleNotFound = errors.New("rule not found")
)

// DuplicatePriorityError reports two rules sharing a priority.
type DuplicatePriorityError struct {
	Priority int
	First    string
	Second   string
}

func (e *DuplicatePriorityError) Error() string {
	return fmt.Sprintf("rules %q and %q share priority %d", e.First, e.Second, e.Priority)
}

// Is makes errors.Is(err, ErrDuplicatePriority) hold.
func (e *DuplicatePriorityError) Is(target error) bool {
	return target == ErrDuplicatePriority
}
