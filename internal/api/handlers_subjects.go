// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"net"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/profile"
)

// AuthFailureResponse is the body of POST /auth-failures.
type AuthFailureResponse struct {
	IP       string `json:"ip"`
	Failures int64  `json:"failures"`
}

// Profiles lists behavioural profiles, most recently active first.
func (h *Handler) Profiles(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Profiles == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}
	if !validate(rw, &page) {
		return
	}

	snapshots := make([]profile.Snapshot, 0, h.deps.Profiles.Len())
	h.deps.Profiles.Range(func(s profile.Snapshot) bool {
		snapshots = append(snapshots, s)
		return true
	})
	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].LastSeen.Equal(snapshots[j].LastSeen) {
			return snapshots[i].LastSeen.After(snapshots[j].LastSeen)
		}
		return snapshots[i].Key < snapshots[j].Key
	})

	start := min(page.Offset, len(snapshots))
	end := min(start+page.Limit, len(snapshots))
	rw.SuccessWithPagination(snapshots[start:end], &PaginationMeta{
		Count:   end - start,
		Offset:  page.Offset,
		Limit:   page.Limit,
		HasMore: end < len(snapshots),
	})
}

// RecordAuthFailure feeds a failed login observed by the application into the
// auth-failure detector.
func (h *Handler) RecordAuthFailure(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.AuthFailures == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	var req AuthFailureRequest
	if !decodeJSON(rw, w, r, &req) {
		return
	}
	if req.Count == 0 {
		req.Count = defaultFailure
	}
	total := h.deps.AuthFailures.RecordFailure(req.IP, req.Count)
	h.record(r, audit.EventAuthFailureRecorded, audit.Target{Type: "ip", ID: req.IP},
		"authentication failures reported", map[string]int64{"count": req.Count, "total": total})
	rw.Success(AuthFailureResponse{IP: req.IP, Failures: total})
}

// Blocks lists active enforcement flags.
func (h *Handler) Blocks(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Enforcement == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	entries, err := h.deps.Enforcement.Blocks(r.Context())
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	rw.Success(firstN(entries, len(entries)))
}

// Unblock lifts an IP block.
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Enforcement == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		rw.BadRequest("ip must be a valid IP address")
		return
	}
	removed, err := h.deps.Enforcement.Unblock(r.Context(), ip)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if !removed {
		rw.NotFound("no active block for " + ip)
		return
	}
	logging.Ctx(r.Context()).Info().Str("ip", ip).Str("by", subject(r)).Msg("ip block lifted")
	h.record(r, audit.EventBlockLifted, audit.Target{Type: "ip", ID: ip}, "ip block lifted", nil)
	rw.NoContent()
}

// Reinstate lifts a user suspension.
func (h *Handler) Reinstate(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Enforcement == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	userID := chi.URLParam(r, "userID")
	removed, err := h.deps.Enforcement.Reinstate(r.Context(), userID)
	if err != nil {
		rw.DatabaseError(err)
		return
	}
	if !removed {
		rw.NotFound("no active suspension for " + userID)
		return
	}
	logging.Ctx(r.Context()).Info().Str("user_id", userID).Str("by", subject(r)).Msg("user suspension lifted")
	h.record(r, audit.EventSuspensionLifted, audit.Target{Type: "user", ID: userID}, "user suspension lifted", nil)
	rw.NoContent()
}
