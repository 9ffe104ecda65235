// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tomtom215/aegis/internal/storage"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	System     string            `json:"system"`
	Version    string            `json:"version"`
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     float64           `json:"uptimeSeconds"`
	Components map[string]string `json:"components"`
	Channels   []string          `json:"channels"`
	Profiles   int               `json:"profilesTracked"`
}

// StatisticsResponse is the body of GET /statistics.
type StatisticsResponse struct {
	Period    string                 `json:"period"`
	Since     time.Time              `json:"since"`
	Threats   storage.ThreatStats    `json:"threats"`
	Incidents storage.IncidentCounts `json:"incidents"`
	Generated time.Time              `json:"generated"`
}

func componentState(enabled bool) string {
	if enabled {
		return "active"
	}
	return "disabled"
}

// Status reports which components are wired and the configured channels.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	d := h.deps
	status := StatusResponse{
		System:    "Aegis threat scoring and incident response",
		Version:   d.Version,
		Status:    "active",
		Timestamp: h.now().UTC(),
		Uptime:    time.Since(h.startTime).Seconds(),
		Components: map[string]string{
			"threatLog":        componentState(d.Threats != nil),
			"incidentResponse": componentState(d.Engine != nil),
			"alerting":         componentState(d.Alerter != nil),
			"profiles":         componentState(d.Profiles != nil),
			"enforcement":      componentState(d.Enforcement != nil),
			"realtime":         componentState(d.Realtime != nil),
		},
		Channels: []string{},
	}
	if d.Alerter != nil {
		status.Channels = d.Alerter.Channels()
	}
	if d.Profiles != nil {
		status.Profiles = d.Profiles.Len()
	}
	NewResponseWriter(w, r).Success(status)
}

// Statistics aggregates the threat log and incident counts over ?hours=
// (default 24).
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Threats == nil || h.deps.Incidents == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !validate(rw, &window) {
		return
	}

	ctx := r.Context()
	since := window.since(h.now())
	threats, err := h.deps.Threats.ThreatStats(ctx, since)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	incidents, err := h.deps.Incidents.CountIncidents(ctx, since)
	if err != nil {
		rw.DatabaseError(err)
		return
	}

	rw.Success(StatisticsResponse{
		Period:    fmt.Sprintf("%d hours", window.Hours),
		Since:     since.UTC(),
		Threats:   threats,
		Incidents: incidents,
		Generated: h.now().UTC(),
	})
}

// Realtime returns the live metrics snapshot pushed to websocket clients.
func (h *Handler) Realtime(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Realtime == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	snapshot, err := h.deps.Realtime.RealtimeMetrics(r.Context())
	if err != nil {
		rw.InternalError("Failed to collect realtime metrics")
		return
	}
	rw.Success(snapshot)
}

// Threats lists threat log records newest first.
func (h *Handler) Threats(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Threats == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	window, err := parseWindow(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	q := r.URL.Query()
	req := ThreatsRequest{
		PageRequest:   page,
		WindowRequest: window,
		Severity:      q.Get("severity"),
		Action:        q.Get("action"),
		IP:            q.Get("ip"),
	}
	if !validate(rw, &req) {
		return
	}

	filter := storage.ThreatLogFilter{
		Start:  req.since(h.now()),
		IP:     req.IP,
		Limit:  req.Limit + 1,
		Offset: req.Offset,
	}
	if req.Severity != "" {
		filter.Severities = []string{strings.ToUpper(req.Severity)}
	}
	if req.Action != "" {
		filter.Actions = []string{req.Action}
	}

	records, err := h.deps.Threats.QueryThreatLogs(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	meta, n := pageMeta(req.PageRequest, len(records))
	rw.SuccessWithPagination(firstN(records, n), meta)
}
