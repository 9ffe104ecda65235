// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tomtom215/aegis/internal/audit"
)

var _ audit.Store = (*Store)(nil)

type auditRow struct {
	ID          string    `db:"id"`
	Timestamp   time.Time `db:"timestamp"`
	Type        string    `db:"type"`
	Outcome     string    `db:"outcome"`
	ActorID     string    `db:"actor_id"`
	ActorRole   string    `db:"actor_role"`
	TargetType  string    `db:"target_type"`
	TargetID    string    `db:"target_id"`
	SourceIP    string    `db:"source_ip"`
	RequestID   string    `db:"request_id"`
	Description string    `db:"description"`
	Metadata    string    `db:"metadata"`
}

const auditColumns = `id, timestamp, type, outcome, actor_id, actor_role, target_type, target_id,
	source_ip, request_id, description, metadata`

func (r *auditRow) toEvent() audit.Event {
	e := audit.Event{
		ID:          r.ID,
		Timestamp:   r.Timestamp.UTC(),
		Type:        audit.EventType(r.Type),
		Outcome:     audit.Outcome(r.Outcome),
		Actor:       audit.Actor{ID: r.ActorID, Role: r.ActorRole},
		Target:      audit.Target{Type: r.TargetType, ID: r.TargetID},
		SourceIP:    r.SourceIP,
		RequestID:   r.RequestID,
		Description: r.Description,
	}
	if r.Metadata != "" {
		e.Metadata = []byte(r.Metadata)
	}
	return e
}

// SaveAuditEvent inserts e.
func (s *Store) SaveAuditEvent(ctx context.Context, e *audit.Event) (err error) {
	defer observe("insert", "audit_events")(&err)

	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_events (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UTC(), string(e.Type), string(e.Outcome), e.Actor.ID, e.Actor.Role,
		e.Target.Type, e.Target.ID, e.SourceIP, e.RequestID, e.Description, string(e.Metadata))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// QueryAuditEvents returns matching events newest first.
func (s *Store) QueryAuditEvents(ctx context.Context, f audit.Filter) (out []audit.Event, err error) {
	defer observe("select", "audit_events")(&err)

	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE 1=1`
	var args []any
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		query += ` AND type IN (?)`
		args = append(args, types)
	}
	if f.ActorID != "" {
		query += ` AND actor_id = ?`
		args = append(args, f.ActorID)
	}
	if f.Target != "" {
		query += ` AND target_id = ?`
		args = append(args, f.Target)
	}
	if !f.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand audit query: %w", err)
	}

	var rows []auditRow
	if err = s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	out = make([]audit.Event, len(rows))
	for i := range rows {
		out[i] = rows[i].toEvent()
	}
	return out, nil
}

// DeleteAuditEventsBefore removes events older than cutoff.
func (s *Store) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer observe("delete", "audit_events")(&err)

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return res.RowsAffected()
}
