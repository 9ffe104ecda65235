// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

/*
Package response executes incident remediation primitives.

Each primitive sets a TTL'd flag in a State backend:

	BLOCK_IP             blocked_ip:<ip>            1h
	SUSPEND_USER         suspended_user:<user>      until lifted
	INCREASE_MONITORING  high_monitoring:<subject>  1h
	FORCE_MFA            force_mfa:<user>           30m
	NOTIFY_ADMIN         admin_notified:<incident>  24h

Setting a flag that is already live is reported as a no-op success. The
HTTP middleware consults the same flags through Executor.Check.

Backends are MemoryState (single process) and BadgerState (durable, native
entry TTLs).
*/
package response
