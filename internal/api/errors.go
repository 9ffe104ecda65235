// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"errors"

	"github.com/tomtom215/aegis/internal/incident"
)

// ErrFeatureDisabled is returned by endpoints whose backing component is not
// configured.
var ErrFeatureDisabled = errors.New("feature is not enabled")

// writeDomainError maps domain errors to HTTP statuses. Anything unknown is
// treated as a storage failure.
func writeDomainError(rw *ResponseWriter, err error) {
	switch {
	case errors.Is(err, incident.ErrIncidentNotFound),
		errors.Is(err, incident.ErrRuleNotFound):
		rw.NotFound(err.Error())
	case errors.Is(err, incident.ErrIncidentAlreadyResolved),
		errors.Is(err, incident.ErrDuplicatePriority):
		rw.Conflict(err.Error())
	case errors.Is(err, incident.ErrInvalidRule),
		errors.Is(err, incident.ErrResolutionIncomplete):
		rw.BadRequest(err.Error())
	case errors.Is(err, ErrFeatureDisabled):
		rw.ServiceUnavailable(err.Error())
	default:
		rw.DatabaseError(err)
	}
}
