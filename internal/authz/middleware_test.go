// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tomtom215/aegis/internal/auth"
)

func TestMiddleware_Authorize(t *testing.T) {
	t.Parallel()
	mw := NewMiddleware(newTestEnforcer(t))
	h := mw.Authorize("rules", ActionWrite)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		claims *auth.Claims
		want   int
	}{
		{"no claims", nil, http.StatusForbidden},
		{"analyst denied", &auth.Claims{Role: RoleAnalyst}, http.StatusForbidden},
		{"admin allowed", &auth.Claims{Role: RoleAdmin}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/security/rules", nil)
			if tt.claims != nil {
				req = req.WithContext(auth.ContextWithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
