// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/aegis/internal/alerting"
	"github.com/tomtom215/aegis/internal/incident"
	"github.com/tomtom215/aegis/internal/threat"
)

var _ alerting.Store = (*Store)(nil)

type alertRow struct {
	ID         string     `db:"id"`
	IncidentID string     `db:"incident_id"`
	Channel    string     `db:"channel"`
	Type       string     `db:"type"`
	Severity   string     `db:"severity"`
	Message    string     `db:"message"`
	Details    string     `db:"details"`
	Status     string     `db:"status"`
	Attempts   int        `db:"attempts"`
	LastError  string     `db:"last_error"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	SentAt     *time.Time `db:"sent_at"`
}

const alertColumns = `id, incident_id, channel, type, severity, message, details, status,
	attempts, last_error, created_at, updated_at, sent_at`

func (r *alertRow) toAlert() *alerting.Alert {
	a := &alerting.Alert{
		ID:         r.ID,
		IncidentID: r.IncidentID,
		Channel:    r.Channel,
		Type:       incident.Type(r.Type),
		Severity:   threat.Severity(r.Severity),
		Message:    r.Message,
		Status:     alerting.Status(r.Status),
		Attempts:   r.Attempts,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
		SentAt:     r.SentAt,
	}
	if r.Details != "" {
		_ = json.Unmarshal([]byte(r.Details), &a.Details)
	}
	return a
}

// CreateAlert inserts a.
func (s *Store) CreateAlert(ctx context.Context, a *alerting.Alert) (err error) {
	defer observe("insert", "alerts")(&err)

	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("marshal alert details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IncidentID, a.Channel, string(a.Type), string(a.Severity), a.Message, string(details),
		string(a.Status), a.Attempts, a.LastError, a.CreatedAt.UTC(), a.UpdatedAt.UTC(), a.SentAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// UpdateAlert records a delivery outcome.
func (s *Store) UpdateAlert(ctx context.Context, a *alerting.Alert) (err error) {
	defer observe("update", "alerts")(&err)

	res, err := s.db.ExecContext(ctx, `UPDATE alerts
		SET status = ?, attempts = ?, last_error = ?, updated_at = ?, sent_at = ?
		WHERE id = ?`,
		string(a.Status), a.Attempts, a.LastError, a.UpdatedAt.UTC(), a.SentAt, a.ID)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return alerting.ErrAlertNotFound
	}
	return nil
}

// RetryableAlerts returns FAILED alerts with attempts left, oldest first.
func (s *Store) RetryableAlerts(ctx context.Context, maxAttempts, limit int) (out []*alerting.Alert, err error) {
	defer observe("select", "alerts")(&err)

	var rows []alertRow
	err = s.db.SelectContext(ctx, &rows, `SELECT `+alertColumns+` FROM alerts
		WHERE status = ? AND attempts < ? ORDER BY created_at LIMIT ?`,
		string(alerting.StatusFailed), maxAttempts, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select retryable alerts: %w", err)
	}
	out = make([]*alerting.Alert, len(rows))
	for i := range rows {
		out[i] = rows[i].toAlert()
	}
	return out, nil
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Status     string
	IncidentID string
	Limit      int
	Offset     int
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) (out []*alerting.Alert, err error) {
	defer observe("select", "alerts")(&err)

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.IncidentID != "" {
		query += ` AND incident_id = ?`
		args = append(args, f.IncidentID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	var rows []alertRow
	if err = s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out = make([]*alerting.Alert, len(rows))
	for i := range rows {
		out[i] = rows[i].toAlert()
	}
	return out, nil
}
