package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const schemaVersion = 2

// timeFormat is fixed-width UTC so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS industry_insights (
		industry           TEXT PRIMARY KEY,
		salary_ranges      TEXT NOT NULL DEFAULT '[]',
		growth_rate        REAL NOT NULL DEFAULT 0,
		demand_level       TEXT NOT NULL DEFAULT '',
		top_skills         TEXT NOT NULL DEFAULT '[]',
		market_outlook     TEXT NOT NULL DEFAULT '',
		key_trends         TEXT NOT NULL DEFAULT '[]',
		recommended_skills TEXT NOT NULL DEFAULT '[]',
		last_updated       TEXT,
		next_update        TEXT,
		created_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,

	`CREATE TABLE IF NOT EXISTS workflow_runs (
		id          TEXT PRIMARY KEY,
		workflow    TEXT NOT NULL,
		state       TEXT NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		started_at  TEXT NOT NULL,
		finished_at TEXT
	)`,

	`CREATE INDEX IF NOT EXISTS idx_workflow_runs_started ON workflow_runs(workflow, started_at)`,

	`CREATE TABLE IF NOT EXISTS workflow_steps (
		run_id       TEXT NOT NULL REFERENCES workflow_runs(id) ON DELETE CASCADE,
		name         TEXT NOT NULL,
		output       TEXT NOT NULL,
		completed_at TEXT NOT NULL,
		PRIMARY KEY (run_id, name)
	)`,
}

// leaseStatements add run ownership to a version 1 database. Version 2
// applies them after schemaStatements.
var leaseStatements = []string{
	`ALTER TABLE workflow_runs ADD COLUMN owner TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE workflow_runs ADD COLUMN heartbeat_at TEXT`,
	`CREATE INDEX IF NOT EXISTS idx_workflow_runs_state ON workflow_runs(workflow, state)`,
}

// migrate creates or updates the database schema to the latest version,
// applying only the statements newer than the recorded version.
func migrate(ctx context.Context, db *sql.DB) error {
	// Ensure schema_version table exists first.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	var pending []string
	if current < 1 {
		pending = append(pending, schemaStatements...)
	}
	if current < 2 {
		pending = append(pending, leaseStatements...)
	}
	for _, stmt := range pending {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s.String, err)
	}
	return t, nil
}
