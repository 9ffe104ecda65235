// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/threat"
)

var _ incident.Store = (*Store)(nil)

type incidentRow struct {
	ID              string     `db:"id"`
	Type            string     `db:"type"`
	Severity        string     `db:"severity"`
	ThreatScore     float64    `db:"threat_score"`
	SubjectIP       string     `db:"subject_ip"`
	SubjectUserID   *string    `db:"subject_user_id"`
	TenantID        *string    `db:"tenant_id"`
	RequestID       string     `db:"request_id"`
	DistanceKm      *float64   `db:"distance_km"`
	FailureCount    *int64     `db:"failure_count"`
	Details         string     `db:"details"`
	Status          string     `db:"status"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	ResolvedBy      *string    `db:"resolved_by"`
	ResolvedAt      *time.Time `db:"resolved_at"`
	ResolutionNotes *string    `db:"resolution_notes"`
}

const incidentColumns = `id, type, severity, threat_score, subject_ip, subject_user_id, tenant_id,
	request_id, distance_km, failure_count, details, status, created_at, updated_at,
	resolved_by, resolved_at, resolution_notes`

func (r *incidentRow) toIncident() *incident.Incident {
	inc := &incident.Incident{
		ID:            r.ID,
		Type:          incident.Type(r.Type),
		Severity:      threat.Severity(r.Severity),
		ThreatScore:   r.ThreatScore,
		SubjectIP:     r.SubjectIP,
		SubjectUserID: r.SubjectUserID,
		TenantID:      r.TenantID,
		RequestID:     r.RequestID,
		DistanceKm:    r.DistanceKm,
		Status:        incident.Status(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		ResolvedAt:    r.ResolvedAt,
	}
	if r.FailureCount != nil {
		n := int(*r.FailureCount)
		inc.FailureCount = &n
	}
	if r.ResolvedBy != nil {
		inc.ResolvedBy = *r.ResolvedBy
	}
	if r.ResolutionNotes != nil {
		inc.ResolutionNotes = *r.ResolutionNotes
	}
	if r.Details != "" {
		_ = json.Unmarshal([]byte(r.Details), &inc.Details)
	}
	return inc
}

// CreateIncident inserts inc with its current status.
func (s *Store) CreateIncident(ctx context.Context, inc *incident.Incident) (err error) {
	defer observe("insert", "incidents")(&err)

	details, err := json.Marshal(inc.Details)
	if err != nil {
		return fmt.Errorf("marshal incident details: %w", err)
	}
	var failures *int64
	if inc.FailureCount != nil {
		n := int64(*inc.FailureCount)
		failures = &n
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO incidents (`+incidentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, string(inc.Type), string(inc.Severity), inc.ThreatScore, inc.SubjectIP,
		inc.SubjectUserID, inc.TenantID, inc.RequestID, inc.DistanceKm, failures,
		string(details), string(inc.Status), inc.CreatedAt.UTC(), inc.UpdatedAt.UTC(),
		nil, nil, nil)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// AppendAction records one executed action.
func (s *Store) AppendAction(ctx context.Context, incidentID string, rec incident.ActionRecord) (err error) {
	defer observe("insert", "incident_actions")(&err)

	_, err = s.db.ExecContext(ctx, `INSERT INTO incident_actions
		(id, incident_id, action, rule, success, noop, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), incidentID, string(rec.Action), rec.Rule, rec.Success, rec.NoOp,
		rec.Error, rec.ExecutedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert incident action: %w", err)
	}
	return nil
}

// UpdateStatus moves an incident from one status to another.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to incident.Status, at time.Time) (err error) {
	defer observe("update", "incidents")(&err)

	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at.UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update incident status: %w", err)
	}
	if n == 0 {
		return incident.ErrIncidentNotFound
	}
	return nil
}

// ResolveIncident resolves id unless it is already resolved.
func (s *Store) ResolveIncident(ctx context.Context, id, resolvedBy, notes string, at time.Time) (_ *incident.Incident, err error) {
	defer observe("update", "incidents")(&err)

	res, err := s.db.ExecContext(ctx, `UPDATE incidents
		SET status = ?, resolved_by = ?, resolution_notes = ?, resolved_at = ?, updated_at = ?
		WHERE id = ? AND status <> ?`,
		string(incident.StatusResolved), resolvedBy, notes, at.UTC(), at.UTC(), id, string(incident.StatusResolved))
	if err != nil {
		return nil, fmt.Errorf("resolve incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve incident: %w", err)
	}
	if n == 0 {
		if _, getErr := s.GetIncident(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, incident.ErrIncidentAlreadyResolved
	}
	return s.GetIncident(ctx, id)
}

// GetIncident loads an incident with its action log.
func (s *Store) GetIncident(ctx context.Context, id string) (_ *incident.Incident, err error) {
	defer observe("select", "incidents")(&err)

	var row incidentRow
	err = s.db.GetContext(ctx, &row, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, incident.ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	inc := row.toIncident()

	var actions []incident.ActionRecord
	err = s.db.SelectContext(ctx, &actions, `SELECT action, rule, success, noop, error, executed_at
		FROM incident_actions WHERE incident_id = ? ORDER BY executed_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("get incident actions: %w", err)
	}
	inc.Actions = actions
	return inc, nil
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Status   string
	Severity string
	Type     string
	Since    time.Time
	Limit    int
	Offset   int
}

// ListIncidents returns incidents newest first, without action logs.
func (s *Store) ListIncidents(ctx context.Context, f IncidentFilter) (out []*incident.Incident, err error) {
	defer observe("select", "incidents")(&err)

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, f.Severity)
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, f.Type)
	}
	if !f.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	var rows []incidentRow
	if err = s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	out = make([]*incident.Incident, len(rows))
	for i := range rows {
		out[i] = rows[i].toIncident()
	}
	return out, nil
}

// IncidentCounts tallies incidents created since a time.
type IncidentCounts struct {
	Total int64 `json:"total" db:"total"`
	Open  int64 `json:"open" db:"open"`
}

// CountIncidents returns the total and unresolved incident counts.
func (s *Store) CountIncidents(ctx context.Context, since time.Time) (c IncidentCounts, err error) {
	defer observe("aggregate", "incidents")(&err)

	err = s.db.GetContext(ctx, &c, `SELECT COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN status <> ? THEN 1 ELSE 0 END), 0) AS open
		FROM incidents WHERE created_at >= ?`, string(incident.StatusResolved), since.UTC())
	if err != nil {
		return c, fmt.Errorf("count incidents: %w", err)
	}
	return c, nil
}
