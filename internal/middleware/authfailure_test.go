// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

type countingRecorder struct {
	ips []string
}

func (c *countingRecorder) RecordFailure(ip string, n int64) int64 {
	for range n {
		c.ips = append(c.ips, ip)
	}
	return int64(len(c.ips))
}

func TestLoginFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		status int
		want   int
	}{
		{"failed login", "/api/auth/login", http.StatusUnauthorized, 1},
		{"failed login subpath", "/api/auth/login/mfa", http.StatusUnauthorized, 1},
		{"successful login", "/api/auth/login", http.StatusOK, 0},
		{"forbidden is not a failure", "/api/auth/login", http.StatusForbidden, 0},
		{"401 elsewhere", "/api/clients", http.StatusUnauthorized, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &countingRecorder{}
			h := LoginFailures(rec, func(*http.Request) string { return "198.51.100.7" }, []string{"/api/auth/login"})(
				http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
				}))

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d passed through", w.Code, tt.status)
			}
			if len(rec.ips) != tt.want {
				t.Fatalf("recorded %d failures, want %d", len(rec.ips), tt.want)
			}
			if tt.want > 0 && rec.ips[0] != "198.51.100.7" {
				t.Errorf("recorded ip = %q", rec.ips[0])
			}
		})
	}
}

func TestLoginFailures_DisabledPassesThrough(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	h := LoginFailures(nil, nil, []string{"/login"})(next)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}
