// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/aegis/internal/audit"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/logging"
)

// Rules lists the active incident rules in priority order.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Engine == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	rw.Success(h.deps.Engine.Rules().Rules())
}

// CreateRule adds a rule. An existing rule with the same name is a conflict.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rule, ok := h.decodeRule(rw, w, r)
	if !ok {
		return
	}
	for _, existing := range h.deps.Engine.Rules().Rules() {
		if existing.Name == rule.Name {
			rw.Conflict("rule " + rule.Name + " already exists")
			return
		}
	}
	h.upsertRule(rw, r, rule, true)
}

// UpdateRule replaces the rule named in the path.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rule, ok := h.decodeRule(rw, w, r)
	if !ok {
		return
	}
	name := chi.URLParam(r, "name")
	if rule.Name != name {
		rw.BadRequest("rule name in body must match the path")
		return
	}
	found := false
	for _, existing := range h.deps.Engine.Rules().Rules() {
		if existing.Name == name {
			found = true
			break
		}
	}
	if !found {
		writeDomainError(rw, incident.ErrRuleNotFound)
		return
	}
	h.upsertRule(rw, r, rule, false)
}

// DeleteRule removes the rule named in the path.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Engine == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return
	}
	name := chi.URLParam(r, "name")
	rs, err := h.deps.Engine.DeleteRule(name)
	if err != nil {
		writeDomainError(rw, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("rule", name).Str("by", subject(r)).Int("rules", rs.Len()).Msg("incident rule deleted")
	h.record(r, audit.EventRuleDeleted, audit.Target{Type: "rule", ID: name}, "incident rule deleted", nil)
	rw.NoContent()
}

func (h *Handler) decodeRule(rw *ResponseWriter, w http.ResponseWriter, r *http.Request) (incident.Rule, bool) {
	if h.deps.Engine == nil {
		writeDomainError(rw, ErrFeatureDisabled)
		return incident.Rule{}, false
	}
	var req RuleRequest
	if !decodeJSON(rw, w, r, &req) {
		return incident.Rule{}, false
	}
	rule := req.toRule()
	if !validate(rw, &rule) {
		return incident.Rule{}, false
	}
	return rule, true
}

func (h *Handler) upsertRule(rw *ResponseWriter, r *http.Request, rule incident.Rule, created bool) {
	rs, err := h.deps.Engine.UpsertRule(rule)
	if err != nil {
		writeDomainError(rw, err)
		return
	}
	logging.Ctx(r.Context()).Info().
		Str("rule", rule.Name).
		Int("priority", rule.Priority).
		Str("by", subject(r)).
		Int("rules", rs.Len()).
		Msg("incident rule saved")
	typ := audit.EventRuleUpdated
	if created {
		typ = audit.EventRuleCreated
	}
	h.record(r, typ, audit.Target{Type: "rule", ID: rule.Name}, "incident rule saved", rule)
	if created {
		rw.Created(rule)
		return
	}
	rw.Success(rule)
}
