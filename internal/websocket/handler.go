// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

// Handler upgrades dashboard connections and attaches them to a hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewHandler returns a handler accepting the given origins. "*" accepts any
// origin; an empty list accepts same-host origins only.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		if len(set) == 0 {
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		}
		return false
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.WSErrors.WithLabelValues("upgrade").Inc()
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	client := NewClient(h.hub, conn)
	h.hub.Register <- client
	client.enqueue(Message{
		Type:      MessageTypeConnectionEstablished,
		ClientID:  client.id,
		Timestamp: time.Now().UTC(),
	})
	client.Start(ctx)
}
