// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package audit keeps the trail of administrative actions: incident
// resolutions, rule table edits, lifted blocks and suspensions, manual
// auth-failure reports, test alerts and configuration reloads.
//
// Events are queued by Logger.Log without blocking the admin request and
// written by Logger.Serve, which runs under the supervisor. The SQL store
// implements Store; MemoryStore serves tests.
//
//	auditor := audit.NewLogger(store, cfg.Audit)
//	auditor.Log(&audit.Event{
//	    Type:   audit.EventBlockLifted,
//	    Actor:  audit.Actor{ID: claims.UserID(), Role: claims.Role},
//	    Target: audit.Target{Type: "ip", ID: ip},
//	})
package audit
