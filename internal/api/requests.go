// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/threat"
	"github.com/tomtom215/aegis/internal/validation"
)

const (
	defaultLimit   = 100
	defaultHours   = 24
	maxBodyBytes   = 1 << 20
	defaultFailure = 1
)

// PageRequest is the validated pagination of list endpoints.
type PageRequest struct {
	Limit  int `json:"limit" validate:"min=1,max=500"`
	Offset int `json:"offset" validate:"min=0,max=1000000"`
}

// WindowRequest selects the look-back window of statistics endpoints.
type WindowRequest struct {
	Hours int `json:"hours" validate:"min=1,max=2160"`
}

// ThreatsRequest filters GET /threats.
type ThreatsRequest struct {
	PageRequest
	WindowRequest
	Severity string `json:"severity" validate:"omitempty,severity"`
	Action   string `json:"action" validate:"omitempty,threat_action"`
	IP       string `json:"ip" validate:"omitempty,ip"`
}

// IncidentsRequest filters GET /incidents.
type IncidentsRequest struct {
	PageRequest
	Status   string `json:"status" validate:"omitempty,oneof=DETECTED ACTIONS_TAKEN RESOLVED"`
	Severity string `json:"severity" validate:"omitempty,severity"`
	Type     string `json:"type" validate:"omitempty,max=64"`
	Hours    int    `json:"hours" validate:"omitempty,min=1,max=2160"`
}

// AuditRequest filters GET /audit.
type AuditRequest struct {
	PageRequest
	Type  string `json:"type" validate:"omitempty,max=64"`
	Actor string `json:"actor" validate:"omitempty,max=256"`
	Hours int    `json:"hours" validate:"omitempty,min=1,max=2160"`
}

// AlertsRequest filters GET /alerts.
type AlertsRequest struct {
	PageRequest
	Status     string `json:"status" validate:"omitempty,oneof=PENDING SENT FAILED"`
	IncidentID string `json:"incidentId" validate:"omitempty,max=64"`
}

// ResolveIncidentRequest is the body of PUT /incidents/{id}/resolve. The
// resolver is the authenticated subject.
type ResolveIncidentRequest struct {
	ResolutionNotes string `json:"resolutionNotes" validate:"required,max=4096"`
}

// TestAlertRequest is the body of POST /test-alert.
type TestAlertRequest struct {
	Severity string `json:"severity" validate:"omitempty,severity"`
	Message  string `json:"message" validate:"omitempty,max=1024"`
}

// AuthFailureRequest is the body of POST /auth-failures.
type AuthFailureRequest struct {
	IP    string `json:"ip" validate:"required,ip"`
	Count int64  `json:"count" validate:"omitempty,min=1,max=1000"`
}

// RuleRequest is the body of POST /rules and PUT /rules/{name}. Enabled
// defaults to true.
type RuleRequest struct {
	Name       string              `json:"name"`
	Priority   int                 `json:"priority"`
	Enabled    *bool               `json:"enabled"`
	Conditions incident.Conditions `json:"conditions"`
	Actions    []string            `json:"actions"`
}

func (req *RuleRequest) toRule() incident.Rule {
	rule := incident.Rule{
		Name:       strings.TrimSpace(req.Name),
		Priority:   req.Priority,
		Enabled:    req.Enabled == nil || *req.Enabled,
		Conditions: req.Conditions,
		Actions:    make([]incident.ActionName, len(req.Actions)),
	}
	rule.Conditions.Severity = threat.Severity(strings.ToUpper(string(rule.Conditions.Severity)))
	for i, a := range req.Actions {
		rule.Actions[i] = incident.ActionName(strings.ToUpper(strings.TrimSpace(a)))
	}
	return rule
}

// decodeJSON reads a bounded JSON body into v and validates it.
func decodeJSON(rw *ResponseWriter, w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return false
		}
		rw.BadRequest("Failed to read request body")
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		rw.BadRequest("Invalid JSON body")
		return false
	}
	return validate(rw, v)
}

func validate(rw *ResponseWriter, v interface{}) bool {
	if verr := validation.ValidateStruct(v); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return false
	}
	return true
}

func getIntParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func parsePage(r *http.Request) (PageRequest, error) {
	limit, err := getIntParam(r, "limit", defaultLimit)
	if err != nil {
		return PageRequest{}, err
	}
	offset, err := getIntParam(r, "offset", 0)
	if err != nil {
		return PageRequest{}, err
	}
	return PageRequest{Limit: limit, Offset: offset}, nil
}

func parseWindow(r *http.Request) (WindowRequest, error) {
	hours, err := getIntParam(r, "hours", defaultHours)
	if err != nil {
		return WindowRequest{}, err
	}
	return WindowRequest{Hours: hours}, nil
}

func (w WindowRequest) since(now time.Time) time.Time {
	return now.Add(-time.Duration(w.Hours) * time.Hour)
}

// pageMeta builds pagination metadata for a page fetched with limit+1 rows.
func pageMeta(page PageRequest, fetched int) (*PaginationMeta, int) {
	count := fetched
	hasMore := fetched > page.Limit
	if hasMore {
		count = page.Limit
	}
	return &PaginationMeta{Count: count, Offset: page.Offset, Limit: page.Limit, HasMore: hasMore}, count
}

// firstN returns the first n items, never nil.
func firstN[T any](items []T, n int) []T {
	if len(items) == 0 {
		return []T{}
	}
	return items[:n]
}
