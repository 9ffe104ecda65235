// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package main

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/tomtom215/aegis/internal/logging"
)

// protectedApp returns the handler that serves requests which pass the
// threat middleware. With an upstream it is a reverse proxy; without one
// every request ends in 404, which still lets the scoring and enforcement
// run in front of nothing during evaluation deployments.
func protectedApp(upstream string) (http.Handler, error) {
	if upstream == "" {
		return http.NotFoundHandler(), nil
	}
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream url: %w", err)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.Ctx(r.Context()).Error().Err(err).
				Str("upstream", target.Host).
				Str("path", r.URL.Path).
				Msg("upstream request failed")
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
	logging.Info().Str("upstream", logging.SanitizeURL(upstream)).Msg("Protecting upstream application")
	return proxy, nil
}
