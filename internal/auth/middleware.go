// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/aegis/internal/logging"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// ContextWithClaims stores verified claims in ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns claims stored by the Authenticate middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok && claims != nil
}

// BearerToken extracts a token from the Authorization header, falling back to
// the "token" cookie.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		cookie, err := r.Cookie("token")
		if err != nil || cookie.Value == "" {
			return "", false
		}
		return cookie.Value, true
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Middleware authenticates admin API requests.
type Middleware struct {
	tokens *TokenManager
}

// NewMiddleware creates an authentication middleware.
func NewMiddleware(tokens *TokenManager) *Middleware {
	return &Middleware{tokens: tokens}
}

// Authenticate rejects requests without a valid bearer token and stores the
// verified claims in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := BearerToken(r)
		if !ok {
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("token", logging.SanitizeToken(token)).Msg("Token validation failed")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
	})
}
