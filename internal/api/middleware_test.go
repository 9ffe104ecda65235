// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/aegis/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChiMiddlewareConfigFrom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		sec         config.SecurityConfig
		wantReqs    int
		wantWindow  time.Duration
		wantProxied bool
	}{
		{"defaults", config.SecurityConfig{}, 100, time.Minute, false},
		{"overrides", config.SecurityConfig{RateLimitReqs: 20, RateLimitWindow: time.Second, TrustedProxies: []string{"10.0.0.0/8"}}, 20, time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := ChiMiddlewareConfigFrom(tt.sec)
			if c.RateLimitRequests != tt.wantReqs || c.RateLimitWindow != tt.wantWindow || c.BehindProxy != tt.wantProxied {
				t.Errorf("config = %+v", c)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		disabled bool
		want     []int
	}{
		{"limits per client", false, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}},
		{"disabled", true, []int{http.StatusOK, http.StatusOK, http.StatusOK}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitRequests: 2, RateLimitWindow: time.Minute, RateLimitDisabled: tt.disabled})
			h := m.RateLimit()(okHandler())
			for i, want := range tt.want {
				req := httptest.NewRequest(http.MethodGet, "/", nil)
				req.RemoteAddr = "192.0.2.10:5000"
				rec := httptest.NewRecorder()
				h.ServeHTTP(rec, req)
				if rec.Code != want {
					t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, want)
				}
			}
		})
	}
}

func TestRateLimitWrite_Floor(t *testing.T) {
	t.Parallel()

	m := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitRequests: 10, RateLimitWindow: time.Minute})
	h := m.RateLimitWrite()(okHandler())
	codes := map[int]int{}
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "192.0.2.11:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[rec.Code]++
	}
	if codes[http.StatusOK] != 5 || codes[http.StatusTooManyRequests] != 1 {
		t.Errorf("codes = %v, want 5 allowed and 1 limited", codes)
	}
}

func TestCORS_Preflight(t *testing.T) {
	t.Parallel()

	m := NewChiMiddleware(&ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{"https://admin.example.com"},
		CORSAllowedMethods: []string{"GET", "PUT"},
		CORSAllowedHeaders: []string{"Authorization"},
	})
	h := m.CORS()(okHandler())

	tests := []struct {
		origin string
		want   string
	}{
		{"https://admin.example.com", "https://admin.example.com"},
		{"https://evil.example.com", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/security/status", nil)
		req.Header.Set("Origin", tt.origin)
		req.Header.Set("Access-Control-Request-Method", "GET")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: allow-origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}

func TestAPISecurityHeaders_HSTS(t *testing.T) {
	t.Parallel()

	h := APISecurityHeaders()(okHandler())
	for _, proto := range []string{"", "https"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if proto != "" {
			req.Header.Set("X-Forwarded-Proto", proto)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		got := rec.Header().Get("Strict-Transport-Security")
		if (proto == "https") != (got != "") {
			t.Errorf("proto %q: HSTS = %q", proto, got)
		}
	}
}
