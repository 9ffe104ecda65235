// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package authz enforces role-based access to the admin API with Casbin.
//
// Roles come from the "role" claim of the verified JWT. The embedded policy
// defines three roles: viewer (status, statistics, realtime), analyst
// (viewer plus threats, incidents, alerts, profiles and auth-failure
// reports) and admin (everything, including rules, alert retries, test
// alerts and unblocking). security.casbin.model_path and policy_path
// override the embedded files.
package authz
