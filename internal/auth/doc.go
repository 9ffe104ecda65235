// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package auth verifies the HS256 bearer tokens issued by the protected
// application and exposes their claims.
//
// Aegis never authenticates end users itself. The SignalCollector reads the
// user, session and tenant from a valid token to attribute requests, and the
// admin API requires a token whose role claim the casbin policy admits:
//
//	tokens, err := auth.NewTokenManager(cfg.Security)
//	if err != nil {
//	    return err
//	}
//	r.Use(auth.NewMiddleware(tokens).Authenticate)
//
//	claims, ok := auth.ClaimsFromContext(r.Context())
package auth
