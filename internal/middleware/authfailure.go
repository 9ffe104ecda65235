// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package middleware

import (
	"net/http"
	"strings"

	"github.com/tomtom215/aegis/internal/logging"
)

// FailureRecorder counts authentication failures per client IP.
type FailureRecorder interface {
	RecordFailure(ip string, n int64) int64
}

// LoginFailures counts a 401 answered by next on one of loginPaths as an
// authentication failure of the client. clientIP must resolve the same
// address the signal collector uses so that the counts reach the detector.
func LoginFailures(rec FailureRecorder, clientIP func(*http.Request) string, loginPaths []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rec == nil || len(loginPaths) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasAnyPrefix(r.URL.Path, loginPaths) {
				next.ServeHTTP(w, r)
				return
			}
			sw := newStatusRecorder(w)
			next.ServeHTTP(sw, r)
			if sw.statusCode != http.StatusUnauthorized {
				return
			}
			ip := clientIP(r)
			if ip == "" {
				return
			}
			total := rec.RecordFailure(ip, 1)
			logging.Ctx(r.Context()).Debug().Str("ip", ip).Int64("window_total", total).Msg("login failure recorded")
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
