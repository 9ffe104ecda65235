// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package cache provides the bounded in-memory structures behind the
// detectors and the profile store: a generic LRU with idle TTL and a keyed
// sliding-window counter.
//
// All structures are safe for concurrent use and take an injectable Clock so
// that window and expiry behaviour can be tested without sleeping.
package cache
