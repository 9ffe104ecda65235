// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomtom215/aegis/internal/logging"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"generates when absent", "", false},
		{"preserves upstream id", "req-from-proxy-42", true},
		{"rejects control characters", "bad\nid", false},
		{"rejects oversized ids", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ctxID, correlation string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
				correlation = logging.CorrelationIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(HeaderRequestID)
			if got != ctxID {
				t.Errorf("header id %q != context id %q", got, ctxID)
			}
			if correlation == "" {
				t.Error("correlation id missing")
			}
			if tt.wantSame {
				if got != tt.header {
					t.Errorf("id = %q, want %q", got, tt.header)
				}
				return
			}
			if _, err := uuid.Parse(got); err != nil {
				t.Errorf("generated id %q is not a UUID: %v", got, err)
			}
		})
	}
}
