// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/aegis/internal/alerting"
	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/auth"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/storage"
	"github.com/tomtom215/aegis/internal/threat"
)

// TestAlertResponse is the body of POST /test-alert.
type TestAlertResponse struct {
	IncidentID string           `json:"incidentId"`
	Alerts     []alerting.Alert `json:"alerts"`
}

// Incidents lists incidents newest first, without their action logs.
func (h *Handler) Incidents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Incidents == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	hours, err := getIntParam(r, "hours", 0)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	q := r.URL.Query()
	req := IncidentsRequest{
		PageRequest: page,
		Status:      strings.ToUpper(q.Get("status")),
		Severity:    q.Get("severity"),
		Type:        strings.ToUpper(q.Get("type")),
		Hours:       hours,
	}
	if !validate(rw, &req) {
		return
	}

	filter := storage.IncidentFilter{
		Status:   req.Status,
		Severity: strings.ToUpper(req.Severity),
		Type:     req.Type,
		Limit:    req.Limit + 1,
		Offset:   req.Offset,
	}
	if req.Hours > 0 {
		filter.Since = h.now().Add(-time.Duration(req.Hours) * time.Hour)
	}

	incidents, err := h.deps.Incidents.ListIncidents(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	meta, n := pageMeta(req.PageRequest, len(incidents))
	rw.SuccessWithPagination(firstN(incidents, n), meta)
}

// Incident returns one incident with its action log.
func (h *Handler) Incident(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Engine == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	inc, err := h.deps.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(rw, err)
		return
	}
	rw.Success(inc)
}

// ResolveIncident closes an incident on behalf of the authenticated subject.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Engine == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	var req ResolveIncidentRequest
	if !decodeJSON(rw, w, r, &req) {
		return
	}

	inc, err := h.deps.Engine.Resolve(r.Context(), chi.URLParam(r, "id"), subject(r), req.ResolutionNotes)
	if err != nil {
		writeDomainError(rw, err)
		return
	}
	h.record(r, audit.EventIncidentResolved, audit.Target{Type: "incident", ID: inc.ID},
		"incident resolved", map[string]string{"notes": req.ResolutionNotes})
	rw.Success(inc)
}

// TestAlert records a TEST incident and dispatches it to every channel that
// admits its severity.
func (h *Handler) TestAlert(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Alerter == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	var req TestAlertRequest
	if !decodeJSON(rw, w, r, &req) {
		return
	}
	severity := threat.SeverityLow
	if req.Severity != "" {
		// Already validated.
		severity, _ = threat.ParseSeverity(req.Severity)
	}

	inc := incident.NewTestIncident(severity, subject(r))
	now := h.now().UTC()
	inc.CreatedAt, inc.UpdatedAt = now, now
	if req.Message != "" {
		inc.Details["message"] = req.Message
	}

	ctx := logging.ContextWithIncidentID(r.Context(), inc.ID)
	if h.deps.Incidents != nil {
		if err := h.deps.Incidents.CreateIncident(ctx, inc); err != nil {
			rw.DatabaseError(err)
			return
		}
	}
	alerts := h.deps.Alerter.DispatchIncident(ctx, inc)
	logging.Ctx(ctx).Info().Int("alerts", len(alerts)).Str("severity", string(severity)).Msg("test alert dispatched")
	h.record(r, audit.EventTestAlertSent, audit.Target{Type: "incident", ID: inc.ID},
		"test alert dispatched", map[string]any{"severity": severity, "alerts": len(alerts)})

	rw.Created(TestAlertResponse{IncidentID: inc.ID, Alerts: firstN(alerts, len(alerts))})
}

// Alerts lists alert deliveries newest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Alerts == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	q := r.URL.Query()
	req := AlertsRequest{
		PageRequest: page,
		Status:      strings.ToUpper(q.Get("status")),
		IncidentID:  q.Get("incidentId"),
	}
	if !validate(rw, &req) {
		return
	}

	alerts, err := h.deps.Alerts.ListAlerts(r.Context(), storage.AlertFilter{
		Status:     req.Status,
		IncidentID: req.IncidentID,
		Limit:      req.Limit + 1,
		Offset:     req.Offset,
	})
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	meta, n := pageMeta(req.PageRequest, len(alerts))
	rw.SuccessWithPagination(firstN(alerts, n), meta)
}

// RetryAlerts runs one requeue pass over failed alerts.
func (h *Handler) RetryAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Alerter == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	report, err := h.deps.Alerter.RequeueFailed(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	h.record(r, audit.EventAlertsRequeued, audit.Target{Type: "alerts"}, "failed alerts requeued", report)
	rw.Success(report)
}

// subject is the authenticated caller, or empty.
func subject(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.UserID()
	}
	return ""
}
