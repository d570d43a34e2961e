package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/flemzord/insightd/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultResumeWindow bounds how old an interrupted run may be and still
// be resumed by the next invocation.
const DefaultResumeWindow = 24 * time.Hour

// DefaultLease is how long a run stays owned without a heartbeat.
const DefaultLease = time.Minute

// Config holds Engine settings.
type Config struct {
	// Logger receives step and run logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Metrics counts replayed steps. May be nil.
	Metrics *telemetry.Metrics

	// ResumeWindow overrides DefaultResumeWindow. A negative value
	// disables resuming.
	ResumeWindow time.Duration

	// Lease overrides DefaultLease. Heartbeats are sent every Lease/3.
	Lease time.Duration

	// Owner identifies the engine in run records. Defaults to
	// host/pid/random so two engines never share an owner.
	Owner string

	// Now is injectable for testing. Defaults to time.Now.
	Now func() time.Time
}

// Engine starts and resumes runs against a Store.
type Engine struct {
	store        Store
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	resumeWindow time.Duration
	lease        time.Duration
	owner        string
	now          func() time.Time
	newID        func() string
}

// NewEngine creates an Engine persisting to store.
func NewEngine(store Store, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ResumeWindow == 0 {
		cfg.ResumeWindow = DefaultResumeWindow
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Owner == "" {
		cfg.Owner = defaultOwner()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		store:        store,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		resumeWindow: cfg.ResumeWindow,
		lease:        cfg.Lease,
		owner:        cfg.Owner,
		now:          cfg.Now,
		newID:        uuid.NewString,
	}
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Owner returns the identity the engine writes into the runs it holds.
func (e *Engine) Owner() string {
	return e.owner
}

// LeaseExpiry returns when the lease on run lapses unless renewed.
func (e *Engine) LeaseExpiry(run RunRecord) time.Time {
	return run.HeartbeatAt.Add(e.lease)
}

// Live reports whether run is running under an unexpired lease.
func (e *Engine) Live(run RunRecord) bool {
	return run.State == StateRunning && e.now().Before(e.LeaseExpiry(run))
}

// Store returns the engine's backing store.
func (e *Engine) Store() Store {
	return e.store
}

// Run is an in-progress workflow invocation.
type Run struct {
	engine  *Engine
	record  RunRecord
	resumed bool
	span    trace.Span

	cancel   context.CancelCauseFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.record.ID }

// Workflow returns the workflow name.
func (r *Run) Workflow() string { return r.record.Workflow }

// Resumed reports whether the run continues an interrupted invocation.
func (r *Run) Resumed() bool { return r.resumed }

// Interrupted returns the latest run of workflow if it is still marked
// running and falls inside the resume window, whoever owns it. Use Live
// to tell an abandoned run from one still in progress elsewhere.
func (e *Engine) Interrupted(ctx context.Context, workflow string) (RunRecord, bool, error) {
	if e.resumeWindow < 0 {
		return RunRecord{}, false, nil
	}
	latest, ok, err := e.store.LatestRun(ctx, workflow)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("workflow: loading latest %s run: %w", workflow, err)
	}
	if !ok || latest.State != StateRunning {
		return RunRecord{}, false, nil
	}
	if e.now().Sub(latest.StartedAt) > e.resumeWindow {
		return RunRecord{}, false, nil
	}
	return latest, true, nil
}

// Begin resumes the interrupted run of workflow if there is one, otherwise
// it records a new run. A run whose lease is still live is never taken
// over: Begin fails with ErrRunInProgress instead. The returned context
// carries the run span, is cancelled with ErrLeaseLost if the lease is
// lost, and must be passed to Step.
func (e *Engine) Begin(ctx context.Context, workflow string) (context.Context, *Run, error) {
	prev, resume, err := e.Interrupted(ctx, workflow)
	if err != nil {
		return ctx, nil, err
	}

	now := e.now()
	liveAfter := now.Add(-e.lease)
	run := &Run{engine: e}
	if resume {
		ok, err := e.store.ClaimRun(ctx, prev.ID, e.owner, liveAfter, now)
		if err != nil {
			return ctx, nil, fmt.Errorf("workflow: claiming %s run %s: %w", workflow, prev.ID, err)
		}
		if !ok {
			return ctx, nil, fmt.Errorf("%w: %s run %s held by %s", ErrRunInProgress, workflow, prev.ID, prev.Owner)
		}
		run.record = prev
		run.record.Owner = e.owner
		run.record.HeartbeatAt = now
		run.resumed = true
		e.logger.Info("workflow: resuming interrupted run",
			"workflow", workflow,
			"run", prev.ID,
			"started_at", prev.StartedAt,
			"previous_owner", prev.Owner,
		)
	} else {
		run.record = RunRecord{
			ID:          e.newID(),
			Workflow:    workflow,
			State:       StateRunning,
			StartedAt:   now,
			Owner:       e.owner,
			HeartbeatAt: now,
		}
		if err := e.store.CreateRun(ctx, run.record, liveAfter); err != nil {
			return ctx, nil, fmt.Errorf("workflow: creating %s run: %w", workflow, err)
		}
		e.logger.Debug("workflow: run started", "workflow", workflow, "run", run.record.ID)
	}

	ctx, run.span = telemetry.Tracer().Start(ctx, "workflow "+workflow, trace.WithAttributes(
		attribute.String("workflow.name", workflow),
		attribute.String("workflow.run_id", run.record.ID),
		attribute.Bool("workflow.resumed", resume),
	))
	ctx, run.cancel = context.WithCancelCause(ctx)
	run.stop = make(chan struct{})
	run.done = make(chan struct{})
	go run.heartbeat(ctx)
	return ctx, run, nil
}

// heartbeat renews the lease until Finish. Losing the lease cancels the
// run context with ErrLeaseLost.
func (r *Run) heartbeat(ctx context.Context) {
	defer close(r.done)
	e := r.engine
	t := time.NewTicker(e.lease / 3)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
		}
		err := e.store.Heartbeat(ctx, r.record.ID, e.owner, e.now())
		switch {
		case errors.Is(err, ErrLeaseLost):
			e.logger.Warn("workflow: lease lost, abandoning run", "workflow", r.record.Workflow, "run", r.record.ID)
			r.cancel(ErrLeaseLost)
			return
		case err != nil && ctx.Err() == nil:
			e.logger.Warn("workflow: heartbeat failed", "workflow", r.record.Workflow, "run", r.record.ID, "error", err)
		}
	}
}

// Finish records the terminal state of the run: completed when runErr is
// nil, failed otherwise.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	e := r.engine
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
	defer r.cancel(nil)

	state, msg := StateCompleted, ""
	if runErr != nil {
		state, msg = StateFailed, runErr.Error()
		r.span.RecordError(runErr)
		r.span.SetStatus(codes.Error, msg)
	}
	defer r.span.End()

	r.record.State = state
	r.record.Error = msg
	r.record.FinishedAt = e.now()

	// Use a context that survives cancellation so a shutdown still
	// records the outcome.
	if err := e.store.FinishRun(context.WithoutCancel(ctx), r.record.ID, e.owner, state, msg, r.record.FinishedAt); err != nil {
		return fmt.Errorf("workflow: finishing run %s: %w", r.record.ID, err)
	}
	e.logger.Debug("workflow: run finished", "workflow", r.record.Workflow, "run", r.record.ID, "state", state)
	return nil
}

// Step executes fn as the named step of run, or returns the checkpointed
// result when the step already completed in this run.
func Step[T any](ctx context.Context, run *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	e := run.engine
	if errors.Is(context.Cause(ctx), ErrLeaseLost) {
		return zero, fmt.Errorf("workflow: step %q: %w", name, ErrLeaseLost)
	}

	raw, ok, err := e.store.LoadStep(ctx, run.record.ID, name)
	if err != nil {
		return zero, fmt.Errorf("workflow: loading step %q: %w", name, err)
	}
	if ok {
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return zero, fmt.Errorf("workflow: decoding step %q checkpoint: %w", name, err)
		}
		e.metrics.StepReplayed(run.record.Workflow)
		e.logger.Debug("workflow: step replayed from checkpoint", "workflow", run.record.Workflow, "step", name)
		return out, nil
	}

	ctx, span := telemetry.Tracer().Start(ctx, "step "+name, trace.WithAttributes(
		attribute.String("workflow.step", name),
	))
	defer span.End()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}

	if errors.Is(context.Cause(ctx), ErrLeaseLost) {
		return zero, fmt.Errorf("workflow: step %q: %w", name, ErrLeaseLost)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("workflow: encoding step %q result: %w", name, err)
	}
	if err := e.store.SaveStep(ctx, run.record.ID, name, encoded, e.now()); err != nil {
		return zero, fmt.Errorf("workflow: saving step %q: %w", name, err)
	}
	return out, nil
}
