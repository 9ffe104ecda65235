// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/aegis/internal/authz"
	"github.com/tomtom215/aegis/internal/middleware"
)

// Authz objects guarded by the casbin policy.
const (
	ObjStatus       = "status"
	ObjStatistics   = "statistics"
	ObjRealtime     = "realtime"
	ObjThreats      = "threats"
	ObjIncidents    = "incidents"
	ObjAlerts       = "alerts"
	ObjRules        = "rules"
	ObjProfiles     = "profiles"
	ObjAuthFailures = "auth-failures"
	ObjBlocks       = "blocks"
	ObjAudit        = "audit"
)

// Authenticator establishes the caller's claims.
type Authenticator interface {
	Authenticate(next http.Handler) http.Handler
}

// Authorizer guards a route with an object/action permission.
type Authorizer interface {
	Authorize(object, action string) func(http.Handler) http.Handler
}

// Router assembles the admin API.
type Router struct {
	handler       *Handler
	authn         Authenticator
	authz         Authorizer
	chiMiddleware *ChiMiddleware
	websocket     http.Handler
	protected     http.Handler
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithWebSocket mounts the realtime websocket at /api/v1/security/ws.
func WithWebSocket(h http.Handler) RouterOption {
	return func(r *Router) { r.websocket = h }
}

// WithProtectedApp mounts the application behind the threat middleware as
// the router's fallback.
func WithProtectedApp(h http.Handler) RouterOption {
	return func(r *Router) { r.protected = h }
}

// NewRouter creates the router.
func NewRouter(handler *Handler, authn Authenticator, authz Authorizer, mw *ChiMiddleware, opts ...RouterOption) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	r := &Router{handler: handler, authn: authn, authz: authz, chiMiddleware: mw}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Setup returns the http.Handler serving every route.
func (router *Router) Setup() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.CORS())
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1/security", func(r chi.Router) {
		r.Use(router.chiMiddleware.CORS())
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders())
		r.Use(middleware.Compression)
		r.Use(router.authn.Authenticate)

		read := func(obj string) func(http.Handler) http.Handler {
			return router.authz.Authorize(obj, authz.ActionRead)
		}
		write := func(obj string) func(http.Handler) http.Handler {
			return router.authz.Authorize(obj, authz.ActionWrite)
		}
		del := func(obj string) func(http.Handler) http.Handler {
			return router.authz.Authorize(obj, authz.ActionDelete)
		}

		r.With(read(ObjStatus)).Get("/status", h.Status)
		r.With(read(ObjStatistics)).Get("/statistics", h.Statistics)
		r.With(read(ObjRealtime)).Get("/realtime", h.Realtime)
		if router.websocket != nil {
			r.With(read(ObjRealtime)).Handle("/ws", router.websocket)
		}

		r.With(read(ObjThreats)).Get("/threats", h.Threats)

		r.With(read(ObjIncidents)).Get("/incidents", h.Incidents)
		r.With(read(ObjIncidents)).Get("/incidents/{id}", h.Incident)
		r.With(write(ObjIncidents), router.chiMiddleware.RateLimitWrite()).Put("/incidents/{id}/resolve", h.ResolveIncident)

		r.With(read(ObjAlerts)).Get("/alerts", h.Alerts)
		r.With(write(ObjAlerts), router.chiMiddleware.RateLimitWrite()).Post("/alerts/retry", h.RetryAlerts)
		r.With(write(ObjAlerts), router.chiMiddleware.RateLimitWrite()).Post("/test-alert", h.TestAlert)

		r.With(read(ObjRules)).Get("/rules", h.Rules)
		r.With(write(ObjRules)).Post("/rules", h.CreateRule)
		r.With(write(ObjRules)).Put("/rules/{name}", h.UpdateRule)
		r.With(del(ObjRules)).Delete("/rules/{name}", h.DeleteRule)

		r.With(read(ObjProfiles)).Get("/profiles", h.Profiles)
		r.With(write(ObjAuthFailures)).Post("/auth-failures", h.RecordAuthFailure)

		r.With(read(ObjBlocks)).Get("/blocks", h.Blocks)
		r.With(del(ObjBlocks)).Delete("/blocks/{ip}", h.Unblock)
		r.With(del(ObjBlocks)).Delete("/suspensions/{userID}", h.Reinstate)

		r.With(read(ObjAudit)).Get("/audit", h.AuditEvents)
	})

	if router.protected != nil {
		r.NotFound(router.protected.ServeHTTP)
		r.MethodNotAllowed(router.protected.ServeHTTP)
	}
	return r
}
