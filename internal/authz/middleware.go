// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package authz

import (
	"net/http"

	"github.com/tomtom215/aegis/internal/auth"
	"github.com/tomtom215/aegis/internal/logging"
)

// Middleware enforces RBAC on admin API routes. It runs after
// auth.Middleware.Authenticate, which stores the verified claims.
type Middleware struct {
	enforcer *Enforcer
}

// NewMiddleware creates an authorization middleware.
func NewMiddleware(enforcer *Enforcer) *Middleware {
	return &Middleware{enforcer: enforcer}
}

// Authorize requires the caller's role to allow action on object.
//
//	r.With(authzMW.Authorize("incidents", authz.ActionWrite)).Put("/incidents/{id}/resolve", h.ResolveIncident)
func (m *Middleware) Authorize(object, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "Forbidden: no authentication context", http.StatusForbidden)
				return
			}

			allowed, err := m.enforcer.Enforce(claims.Role, object, action)
			if err != nil {
				logging.Ctx(r.Context()).Error().Err(err).Msg("Authorization error")
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if !allowed {
				logging.Ctx(r.Context()).Warn().
					Str("user_id", claims.UserID()).
					Str("role", claims.Role).
					Str("object", object).
					Str("action", action).
					Msg("authorization denied")
				http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
