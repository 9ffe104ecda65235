// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package services adapts components whose lifecycle is not already
// Serve(ctx) shaped to suture.Service: the HTTP server and the event bus.
// The pipeline runner, scheduler, websocket hub and bridge implement
// suture.Service themselves and are added to the tree directly.
package services
