// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"context"
	"net/http"
	"time"
)

const readinessTimeout = 2 * time.Second

// HealthLive reports that the process is up, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"alive":   true,
		"version": h.deps.Version,
		"uptime":  time.Since(h.startTime).Seconds(),
	})
}

// HealthReady runs every readiness check and answers 503 when any fails.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.deps.HealthChecks))
	ready := true
	for _, hc := range h.deps.HealthChecks {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			ready = false
			continue
		}
		checks[hc.Name] = "ok"
	}

	rw := NewResponseWriter(w, r)
	if !ready {
		rw.ErrorWithDetails(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Service is not ready", checks)
		return
	}
	rw.Success(map[string]interface{}{
		"ready":  true,
		"checks": checks,
		"uptime": time.Since(h.startTime).Seconds(),
	})
}
