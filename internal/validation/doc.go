// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package validation validates admin API request bodies with
// go-playground/validator v10.
//
// A single validator instance is shared process-wide. Besides the built-in
// tags it understands three domain tags:
//
//   - severity: LOW, MEDIUM, HIGH or CRITICAL
//   - incident_action: BLOCK_IP, SUSPEND_USER, INCREASE_MONITORING, FORCE_MFA, NOTIFY_ADMIN
//   - threat_action: ALLOW, LOG, MONITOR, CHALLENGE or BLOCK
//
// Field names in messages use the struct's json tag.
//
//	type resolveRequest struct {
//	    ResolvedBy string `json:"resolvedBy" validate:"required,max=128"`
//	    Notes      string `json:"notes" validate:"max=4096"`
//	}
package validation
