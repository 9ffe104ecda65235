// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

// Package storage persists threat logs, incidents, alerts and the audit
// trail through sqlx over DuckDB (default) or SQLite. The SQL is portable
// between both drivers: '?' bind variables, TEXT/DOUBLE/INTEGER/BOOLEAN/TIMESTAMP
// columns, JSON kept as TEXT, all timestamps stored in UTC.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tomtom215/aegis/internal/config"
	"github.com/tomtom215/aegis/internal/logging"
	"github.com/tomtom215/aegis/internal/metrics"
)

// Drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite3"
)

// Store is the SQL persistence layer. It implements incident.Store and
// alerting.Store and serves the threat log queries of the admin API.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open opens the configured database and applies the schema.
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverDuckDB
	}
	dsn := cfg.Path
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}
	switch driver {
	case DriverDuckDB:
		dsn += "?autoinstall_known_extensions=false&autoload_known_extensions=false"
	case DriverSQLite:
		if dsn != ":memory:" {
			dsn = "file:" + dsn + "?_busy_timeout=5000&_journal_mode=WAL"
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	maxOpen := cfg.MaxOpenConns
	if cfg.Path == ":memory:" || maxOpen <= 0 {
		// Each connection to an in-memory database is a separate database.
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if cfg.Path == ":memory:" {
		db.SetConnMaxLifetime(0)
		db.SetMaxIdleConns(1)
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logging.Info().Str("driver", driver).Str("path", cfg.Path).Msg("storage opened")
	return s, nil
}

// OpenMemory opens an in-memory database, used by tests and the
// development profile.
func OpenMemory(ctx context.Context, driver string) (*Store, error) {
	return Open(ctx, config.StorageConfig{Driver: driver, Path: ":memory:"})
}

// Driver returns the driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	for _, q := range schema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to execute schema statement: %s: %w", q, err)
		}
	}
	return nil
}

// observe records query latency and errors:
//
//	defer observe("insert", "alerts")(&err)
func observe(operation, table string) func(*error) {
	start := time.Now()
	return func(err *error) {
		metrics.RecordDBQuery(operation, table, time.Since(start), *err)
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS threat_logs (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		request_id TEXT NOT NULL,
		tenant_id TEXT,
		ip TEXT NOT NULL,
		user_id TEXT,
		method TEXT NOT NULL,
		url TEXT NOT NULL,
		threat_score DOUBLE NOT NULL,
		action TEXT NOT NULL,
		severity TEXT NOT NULL,
		analysis TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threat_logs_timestamp ON threat_logs (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_threat_logs_severity ON threat_logs (severity)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		threat_score DOUBLE NOT NULL,
		subject_ip TEXT NOT NULL,
		subject_user_id TEXT,
		tenant_id TEXT,
		request_id TEXT NOT NULL,
		distance_km DOUBLE,
		failure_count INTEGER,
		details TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		resolved_by TEXT,
		resolved_at TIMESTAMP,
		resolution_notes TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents (status)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_created ON incidents (created_at)`,
	`CREATE TABLE IF NOT EXISTS incident_actions (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		action TEXT NOT NULL,
		rule TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		noop BOOLEAN NOT NULL,
		error TEXT NOT NULL,
		executed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incident_actions_incident ON incident_actions (incident_id)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		incident_id TEXT NOT NULL,
		channel TEXT NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		last_error TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		sent_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts (status)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_incident ON alerts (incident_id)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		type TEXT NOT NULL,
		outcome TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		actor_role TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		source_ip TEXT NOT NULL,
		request_id TEXT NOT NULL,
		description TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp)`,
}
