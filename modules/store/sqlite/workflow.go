package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/insightd/internal/workflow"
)

// workflowStore implements workflow.Store backed by SQLite.
type workflowStore struct {
	db *sql.DB
}

const runColumns = "id, workflow, state, error, started_at, finished_at, owner, heartbeat_at"

// CreateRun implements workflow.Store. The live-run check and the insert
// are one statement, so two processes cannot both start the workflow.
func (s *workflowStore) CreateRun(ctx context.Context, run workflow.RunRecord, liveAfter time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, workflow, state, error, started_at, owner, heartbeat_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM workflow_runs
			WHERE workflow = ? AND state = ? AND heartbeat_at >= ?
		)`,
		run.ID, run.Workflow, string(run.State), run.Error, formatTime(run.StartedAt), run.Owner, nullTime(run.HeartbeatAt),
		run.Workflow, string(workflow.StateRunning), formatTime(liveAfter),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return workflow.ErrRunInProgress
	}
	return nil
}

// ClaimRun implements workflow.Store.
func (s *workflowStore) ClaimRun(ctx context.Context, id, owner string, liveAfter, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET owner = ?, heartbeat_at = ?
		WHERE id = ? AND state = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)`,
		owner, formatTime(at), id, string(workflow.StateRunning), formatTime(liveAfter),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: claim run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: claim run: %w", err)
	}
	return n == 1, nil
}

// Heartbeat implements workflow.Store.
func (s *workflowStore) Heartbeat(ctx context.Context, id, owner string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE workflow_runs SET heartbeat_at = ? WHERE id = ? AND owner = ? AND state = ?",
		formatTime(at), id, owner, string(workflow.StateRunning),
	)
	if err != nil {
		return fmt.Errorf("sqlite: heartbeat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return workflow.ErrLeaseLost
	}
	return nil
}

// LatestRun implements workflow.Store.
func (s *workflowStore) LatestRun(ctx context.Context, name string) (workflow.RunRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+runColumns+` FROM workflow_runs
		WHERE workflow = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, name)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.RunRecord{}, false, nil
	}
	if err != nil {
		return workflow.RunRecord{}, false, err
	}
	return run, true, nil
}

// FinishRun implements workflow.Store.
func (s *workflowStore) FinishRun(ctx context.Context, id, owner string, state workflow.State, errMsg string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE workflow_runs SET state = ?, error = ?, finished_at = ? WHERE id = ? AND owner = ?",
		string(state), errMsg, formatTime(at), id, owner,
	)
	if err != nil {
		return fmt.Errorf("sqlite: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_runs WHERE id = ?", id).Scan(&exists)
	switch {
	case err != nil:
		return fmt.Errorf("sqlite: finish run: %w", err)
	case exists == 0:
		return workflow.ErrRunNotFound
	default:
		return workflow.ErrLeaseLost
	}
}

// LoadStep implements workflow.Store.
func (s *workflowStore) LoadStep(ctx context.Context, runID, name string) (json.RawMessage, bool, error) {
	var out string
	err := s.db.QueryRowContext(ctx,
		"SELECT output FROM workflow_steps WHERE run_id = ? AND name = ?", runID, name,
	).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: load step: %w", err)
	}
	return json.RawMessage(out), true, nil
}

// SaveStep implements workflow.Store.
func (s *workflowStore) SaveStep(ctx context.Context, runID, name string, output json.RawMessage, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO workflow_steps (run_id, name, output, completed_at) VALUES (?, ?, ?, ?)",
		runID, name, string(output), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save step: %w", err)
	}
	return nil
}

// ListRuns implements workflow.Store.
func (s *workflowStore) ListRuns(ctx context.Context, name string, limit int) ([]workflow.RunRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+` FROM workflow_runs
		WHERE workflow = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`, name, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var out []workflow.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(sc scanner) (workflow.RunRecord, error) {
	var (
		run      workflow.RunRecord
		state    string
		started  string
		finished sql.NullString
		beat     sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Workflow, &state, &run.Error, &started, &finished, &run.Owner, &beat); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("sqlite: scan run: %w", err)
	}
	run.State = workflow.State(state)

	var err error
	if run.StartedAt, err = parseTime(sql.NullString{String: started, Valid: true}); err != nil {
		return run, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return run, err
	}
	if run.HeartbeatAt, err = parseTime(beat); err != nil {
		return run, err
	}
	return run, nil
}
