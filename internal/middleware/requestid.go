// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tomtom215/aegis/internal/logging"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID takes the request id from X-Request-ID or generates a UUID,
// echoes it in the response and stores it in the logging context along with
// a fresh correlation id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := sanitizeRequestID(r.Header.Get(HeaderRequestID))
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithCorrelationID(ctx, logging.GenerateCorrelationID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID extracts the request ID from context.
func GetRequestID(ctx context.Context) string {
	return logging.RequestIDFromContext(ctx)
}

// sanitizeRequestID drops ids that are too long or carry control
// characters, since they end up in logs and response headers.
func sanitizeRequestID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > maxRequestIDLen {
		return ""
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x20 || c == 0x7f {
			return ""
		}
	}
	return id
}
