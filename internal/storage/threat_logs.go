// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tomtom215/aegis/internal/threat"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// ThreatLogRecord is one persisted scored request. Records are append-only.
type ThreatLogRecord struct {
	ID          string          `json:"id" db:"id"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	RequestID   string          `json:"requestId" db:"request_id"`
	TenantID    *string         `json:"tenantId,omitempty" db:"tenant_id"`
	IP          string          `json:"ip" db:"ip"`
	UserID      *string         `json:"userId" db:"user_id"`
	Method      string          `json:"method" db:"method"`
	URL         string          `json:"url" db:"url"`
	ThreatScore float64         `json:"threatScore" db:"threat_score"`
	Action      string          `json:"action" db:"action"`
	Severity    string          `json:"severity" db:"severity"`
	Analysis    json.RawMessage `json:"analysis" db:"-"`
}

type threatLogRow struct {
	ThreatLogRecord
	AnalysisText string `db:"analysis"`
}

// NewThreatLogRecord builds the record of a scored request.
func NewThreatLogRecord(sig *threat.RequestSignal, a *threat.Analysis) (ThreatLogRecord, error) {
	analysis, err := json.Marshal(a)
	if err != nil {
		return ThreatLogRecord{}, fmt.Errorf("marshal analysis: %w", err)
	}
	return ThreatLogRecord{
		ID:          uuid.NewString(),
		Timestamp:   sig.Timestamp.UTC(),
		RequestID:   sig.RequestID,
		TenantID:    sig.TenantID,
		IP:          sig.IP,
		UserID:      sig.UserID,
		Method:      sig.Method,
		URL:         sig.URL,
		ThreatScore: a.Score,
		Action:      string(a.Decision.Action),
		Severity:    string(a.HighestSeverity()),
		Analysis:    analysis,
	}, nil
}

// AppendThreatLog inserts rec.
func (s *Store) AppendThreatLog(ctx context.Context, rec ThreatLogRecord) (err error) {
	defer observe("insert", "threat_logs")(&err)

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	analysis := string(rec.Analysis)
	if analysis == "" {
		analysis = "{}"
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO threat_logs
		(id, timestamp, request_id, tenant_id, ip, user_id, method, url, threat_score, action, severity, analysis)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC(), rec.RequestID, rec.TenantID, rec.IP, rec.UserID,
		rec.Method, rec.URL, rec.ThreatScore, rec.Action, rec.Severity, analysis)
	if err != nil {
		return fmt.Errorf("insert threat log: %w", err)
	}
	return nil
}

// ThreatLogFilter narrows QueryThreatLogs. Zero fields do not filter.
type ThreatLogFilter struct {
	Start      time.Time
	End        time.Time
	Severities []string
	Actions    []string
	IP         string
	Limit      int
	Offset     int
}

// QueryThreatLogs returns matching records newest first.
func (s *Store) QueryThreatLogs(ctx context.Context, f ThreatLogFilter) (out []ThreatLogRecord, err error) {
	defer observe("select", "threat_logs")(&err)

	query := `SELECT id, timestamp, request_id, tenant_id, ip, user_id, method, url,
		threat_score, action, severity, analysis FROM threat_logs WHERE 1=1`
	var args []any
	if !f.Start.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, f.Start.UTC())
	}
	if !f.End.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, f.End.UTC())
	}
	if len(f.Severities) > 0 {
		query += ` AND severity IN (?)`
		args = append(args, f.Severities)
	}
	if len(f.Actions) > 0 {
		query += ` AND action IN (?)`
		args = append(args, f.Actions)
	}
	if f.IP != "" {
		query += ` AND ip = ?`
		args = append(args, f.IP)
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, clampLimit(f.Limit), max(f.Offset, 0))

	query, args, err = sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("expand threat log query: %w", err)
	}

	var rows []threatLogRow
	if err = s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query threat logs: %w", err)
	}
	out = make([]ThreatLogRecord, len(rows))
	for i, r := range rows {
		out[i] = r.ThreatLogRecord
		out[i].Analysis = json.RawMessage(r.AnalysisText)
	}
	return out, nil
}

// IPCount is a per-IP tally.
type IPCount struct {
	IP    string `json:"ip" db:"ip"`
	Count int64  `json:"count" db:"n"`
}

// ThreatStats summarises the threat log since a point in time.
type ThreatStats struct {
	Since        time.Time        `json:"since"`
	Total        int64            `json:"total"`
	AverageScore float64          `json:"averageScore"`
	ByAction     map[string]int64 `json:"byAction"`
	BySeverity   map[string]int64 `json:"bySeverity"`
	TopIPs       []IPCount        `json:"topIps"`
}

type groupCount struct {
	Key   string `db:"k"`
	Count int64  `db:"n"`
}

// ThreatStats aggregates the threat log since the given time. Top IPs
// count non-ALLOW decisions only.
func (s *Store) ThreatStats(ctx context.Context, since time.Time) (stats ThreatStats, err error) {
	defer observe("aggregate", "threat_logs")(&err)

	stats = ThreatStats{
		Since:      since.UTC(),
		ByAction:   map[string]int64{},
		BySeverity: map[string]int64{},
	}

	var summary struct {
		Total int64    `db:"total"`
		Avg   *float64 `db:"avg_score"`
	}
	err = s.db.GetContext(ctx, &summary,
		`SELECT COUNT(*) AS total, AVG(threat_score) AS avg_score FROM threat_logs WHERE timestamp >= ?`, since.UTC())
	if err != nil {
		return stats, fmt.Errorf("threat log summary: %w", err)
	}
	stats.Total = summary.Total
	if summary.Avg != nil {
		stats.AverageScore = *summary.Avg
	}

	for col, dst := range map[string]map[string]int64{"action": stats.ByAction, "severity": stats.BySeverity} {
		var groups []groupCount
		q := fmt.Sprintf(`SELECT %s AS k, COUNT(*) AS n FROM threat_logs WHERE timestamp >= ? GROUP BY %s`, col, col)
		if err = s.db.SelectContext(ctx, &groups, q, since.UTC()); err != nil {
			return stats, fmt.Errorf("threat log by %s: %w", col, err)
		}
		for _, g := range groups {
			dst[g.Key] = g.Count
		}
	}

	err = s.db.SelectContext(ctx, &stats.TopIPs, `SELECT ip, COUNT(*) AS n FROM threat_logs
		WHERE timestamp >= ? AND action <> ? GROUP BY ip ORDER BY n DESC, ip LIMIT 10`,
		since.UTC(), string(threat.ActionAllow))
	if err != nil {
		return stats, fmt.Errorf("threat log top ips: %w", err)
	}
	sort.SliceStable(stats.TopIPs, func(i, j int) bool { return stats.TopIPs[i].Count > stats.TopIPs[j].Count })
	return stats, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultQueryLimit
	case n > maxQueryLimit:
		return maxQueryLimit
	default:
		return n
	}
}
