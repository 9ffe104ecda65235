// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/auth"
	"github.com/tomtom215/aegis/internal/logging"
)

// AuditEvents lists the administrative audit trail newest first.
func (h *Handler) AuditEvents(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Audit == nil {
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
	req := AuditRequest{
		PageRequest: page,
		Type:        q.Get("type"),
		Actor:       q.Get("actor"),
		Hours:       hours,
	}
	if !validate(rw, &req) {
		return
	}

	filter := audit.Filter{
		ActorID: req.Actor,
		Target:  q.Get("target"),
		Limit:   req.Limit + 1,
		Offset:  req.Offset,
	}
	if req.Type != "" {
		filter.Types = []audit.EventType{audit.EventType(req.Type)}
	}
	if req.Hours > 0 {
		filter.Since = h.now().Add(-time.Duration(req.Hours) * time.Hour)
	}

	events, err := h.deps.Audit.Query(r.Context(), filter)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	meta, n := pageMeta(req.PageRequest, len(events))
	rw.SuccessWithPagination(firstN(events, n), meta)
}

// record adds an entry to the audit trail on behalf of the caller.
func (h *Handler) record(r *http.Request, typ audit.EventType, target audit.Target, description string, metadata any) {
	if h.deps.Audit == nil {
		return
	}
	e := &audit.Event{
		Type:        typ,
		Outcome:     audit.OutcomeSuccess,
		Target:      target,
		SourceIP:    h.deps.ClientIP(r),
		RequestID:   logging.RequestIDFromContext(r.Context()),
		Description: description,
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		e.Actor = audit.Actor{ID: claims.UserID(), Role: claims.Role}
	}
	if metadata != nil {
		e.Metadata = audit.Metadata(metadata)
	}
	h.deps.Audit.Log(e)
}
