// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package api serves the Aegis admin API.
//
// Routes live under /api/v1/security and require a bearer JWT; each route
// is then authorized by the casbin policy in internal/authz:
//
//	GET    /status                 viewer
//	GET    /statistics?hours=24    viewer
//	GET    /realtime               viewer
//	GET    /ws                     viewer (websocket upgrade)
//	GET    /threats                analyst
//	GET    /incidents              analyst
//	GET    /incidents/{id}         analyst
//	PUT    /incidents/{id}/resolve analyst
//	GET    /alerts                 analyst
//	POST   /alerts/retry           admin
//	POST   /test-alert             admin
//	GET    /rules                  admin
//	POST   /rules                  admin
//	PUT    /rules/{name}           admin
//	DELETE /rules/{name}           admin
//	GET    /profiles               analyst
//	POST   /auth-failures          analyst
//	GET    /blocks                 admin
//	DELETE /blocks/{ip}            admin
//	DELETE /suspensions/{userID}   admin
//	GET    /audit                  admin
//
// /api/v1/health/live and /api/v1/health/ready are unauthenticated, as is
// the Prometheus endpoint /metrics.
//
// Every JSON response uses the APIResponse envelope. Domain errors map to
// statuses in one place (writeDomainError): unknown incidents and rules are
// 404, already-resolved incidents and duplicate rule priorities are 409,
// invalid rules and incomplete resolutions are 400.
package api
