// Package workflow runs jobs as a sequence of named, checkpointed steps.
//
// A run is a single invocation of a workflow. Each step's JSON-encoded
// result is persisted once the step succeeds; when an interrupted run is
// resumed, completed steps return their checkpoint instead of executing
// again. Failed steps are never checkpointed.
//
// A running run is owned by one engine, which renews a lease on it with
// periodic heartbeats. Other engines, in this process or another one
// sharing the database, refuse to start or resume the workflow while the
// lease is live.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State is the lifecycle state of a run.
type State string

// Run states.
const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// RunRecord is the persisted form of a run.
type RunRecord struct {
	ID         string    `json:"id"`
	Workflow   string    `json:"workflow"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// Owner identifies the engine holding the run's lease.
	Owner string `json:"owner,omitempty"`
	// HeartbeatAt is the last lease renewal.
	HeartbeatAt time.Time `json:"heartbeat_at,omitzero"`
}

// Sentinel errors.
var (
	// ErrRunNotFound is returned when a run ID is unknown to the store.
	ErrRunNotFound = errors.New("workflow: run not found")

	// ErrRunInProgress is returned by Begin when another engine holds a
	// live lease on a run of the same workflow.
	ErrRunInProgress = errors.New("workflow: run in progress")

	// ErrLeaseLost is returned when a run was claimed by another owner.
	ErrLeaseLost = errors.New("workflow: lease lost")
)

// Store persists runs and step checkpoints.
type Store interface {
	// CreateRun records a new run. It fails with ErrRunInProgress, and
	// records nothing, when a running run of the same workflow has a
	// heartbeat at or after liveAfter.
	CreateRun(ctx context.Context, run RunRecord, liveAfter time.Time) error

	// ClaimRun hands a running run over to owner when its heartbeat is
	// older than liveAfter. ok is false when the run finished or its lease
	// is still live.
	ClaimRun(ctx context.Context, id, owner string, liveAfter, at time.Time) (ok bool, err error)

	// Heartbeat renews the lease of owner on a running run. It fails with
	// ErrLeaseLost when the run finished or belongs to someone else.
	Heartbeat(ctx context.Context, id, owner string, at time.Time) error

	// LatestRun returns the most recently started run of a workflow.
	// ok is false when the workflow never ran.
	LatestRun(ctx context.Context, workflow string) (run RunRecord, ok bool, err error)

	// FinishRun sets the terminal state of a run owned by owner. It fails
	// with ErrLeaseLost when another owner claimed the run.
	FinishRun(ctx context.Context, id, owner string, state State, errMsg string, at time.Time) error

	// LoadStep returns the checkpoint of a step. ok is false when the step
	// has not completed in this run.
	LoadStep(ctx context.Context, runID, name string) (output json.RawMessage, ok bool, err error)

	// SaveStep stores the checkpoint of a completed step.
	SaveStep(ctx context.Context, runID, name string, output json.RawMessage, at time.Time) error

	// ListRuns returns up to limit runs of a workflow, newest first.
	ListRuns(ctx context.Context, workflow string, limit int) ([]RunRecord, error)
}
