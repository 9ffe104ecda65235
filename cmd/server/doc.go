// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Command server runs Aegis, the request threat scoring and incident
// response service of the med-spa platform.
//
// Every request that does not address the admin API passes the threat
// middleware: its signal is collected, pattern-matched and run through the
// anomaly detectors, scored, and allowed, flagged or blocked. Side effects
// (threat log, profiles, incidents, alerts, realtime events) run on the
// async runner. Allowed requests are reverse-proxied to UPSTREAM_URL.
//
// # Startup order
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. SQL store (DuckDB or SQLite) and enforcement state (memory or Badger)
//  3. Event bus (Watermill GoChannel or NATS JetStream)
//  4. Signal collector, detectors, analyzer
//  5. Alert dispatcher, action executor, incident engine
//  6. Pipeline, realtime hub, scheduler
//  7. Admin API and protected application
//  8. Supervisor tree
//
// # Configuration hot reload
//
// When a config file was loaded it is watched. Scoring weights, action
// thresholds, the incident rule table and the log level are swapped in
// place; a reload that fails validation leaves the running settings alone.
//
// # Admin tokens
//
// The admin API accepts HS256 bearer tokens carrying a role claim. To mint
// one with the configured secret:
//
//	JWT_SECRET=... ./aegis token -sub oncall -role analyst -ttl 8h
//
// # Signals
//
// SIGINT and SIGTERM cancel the root context. The HTTP server drains for
// SHUTDOWN_TIMEOUT, the async runner finishes queued side effects and the
// event bus and stores are closed.
package main
