// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/aegis/internal/config"
)

// ChiMiddlewareConfig configures CORS and rate limiting for the admin API.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int // seconds

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
	// BehindProxy keys the limiter on X-Forwarded-For / X-Real-IP.
	BehindProxy bool
}

// DefaultChiMiddlewareConfig returns a closed-by-default configuration: no
// CORS origins and 100 requests per minute per client.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		CORSMaxAge:         86400,
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
	}
}

// ChiMiddlewareConfigFrom builds the configuration from the security section.
func ChiMiddlewareConfigFrom(sec config.SecurityConfig) *ChiMiddlewareConfig {
	c := DefaultChiMiddlewareConfig()
	c.CORSAllowedOrigins = sec.CORSOrigins
	if sec.RateLimitReqs > 0 {
		c.RateLimitRequests = sec.RateLimitReqs
	}
	if sec.RateLimitWindow > 0 {
		c.RateLimitWindow = sec.RateLimitWindow
	}
	c.RateLimitDisabled = sec.RateLimitDisabled
	c.BehindProxy = len(sec.TrustedProxies) > 0
	return c
}

// ChiMiddleware builds chi-compatible CORS and rate limiting middleware.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware creates the middleware factory. A nil config uses
// DefaultChiMiddlewareConfig.
func NewChiMiddleware(cfg *ChiMiddlewareConfig) *ChiMiddleware {
	if cfg == nil {
		cfg = DefaultChiMiddlewareConfig()
	}
	return &ChiMiddleware{
		config: cfg,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
			AllowedHeaders: cfg.CORSAllowedHeaders,
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         cfg.CORSMaxAge,
		}),
	}
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimit returns the default per-client limiter.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	return m.limit(m.config.RateLimitRequests, m.config.RateLimitWindow)
}

// RateLimitWrite limits state-changing endpoints to a fifth of the default
// budget, with a floor of 5.
func (m *ChiMiddleware) RateLimitWrite() func(http.Handler) http.Handler {
	return m.limit(max(m.config.RateLimitRequests/5, 5), m.config.RateLimitWindow)
}

// RateLimitHealth allows frequent probes: 1000 per minute.
func (m *ChiMiddleware) RateLimitHealth() func(http.Handler) http.Handler {
	return m.limit(1000, time.Minute)
}

func (m *ChiMiddleware) limit(requests int, window time.Duration) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}
	keyFunc := httprate.KeyByIP
	if m.config.BehindProxy {
		keyFunc = httprate.KeyByRealIP
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			NewResponseWriter(w, r).Error(http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Rate limit exceeded")
		}),
	)
}

// APISecurityHeaders sets the response headers every admin API response
// carries. HSTS is added for TLS requests and TLS-terminating proxies.
func APISecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
