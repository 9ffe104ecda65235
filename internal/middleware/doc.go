// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

/*
Package middleware provides the HTTP middleware of Aegis.

ThreatProtection is the request-scoring middleware applications mount in
front of their handlers. The remaining middleware serves the admin API:

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request count, latency and in-flight gauge labelled by chi route pattern
  - Compression: gzip for clients that accept it

Typical stack:

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.PrometheusMetrics)
	r.Use(middleware.ThreatProtection(pipeline, executor))
*/
package middleware
