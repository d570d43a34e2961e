package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/insightd/internal/telemetry"
	"github.com/flemzord/insightd/internal/workflow"
	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", expr, err)
	}
	return nil
}

// JobStatus is a point-in-time view of one registered job.
type JobStatus struct {
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Running      bool          `json:"running"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitzero"`

	// Filled from persisted run history by Module.Jobs.
	LastRunID   string    `json:"last_run_id,omitempty"`
	LastState   string    `json:"last_state,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	Owner       string    `json:"owner,omitempty"`
}

// jobState holds the bookkeeping of one job. lock serializes runs;
// the status fields are guarded by Scheduler.statusMu.
type jobState struct {
	job     Job
	entry   cron.EntryID
	running bool
	lastRun time.Time
	lastDur time.Duration
	lastErr string
}

// Scheduler manages periodic job execution using cron expressions.
// Each job is protected by a per-job mutex to prevent parallel execution
// of the same job, whether fired by a tick or a manual Trigger.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   []Job
	locks  map[string]*sync.Mutex
	logger *slog.Logger
	cancel context.CancelFunc

	metrics *telemetry.Metrics

	statusMu sync.Mutex
	states   map[string]*jobState
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
// metrics may be nil.
func NewScheduler(logger *slog.Logger, metrics *telemetry.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		locks:   make(map[string]*sync.Mutex),
		states:  make(map[string]*jobState),
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterJob adds a job to the scheduler. Must be called before Start().
// Returns an error if a job with the same name is already registered.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.locks[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	s.locks[name] = &sync.Mutex{}
	s.jobs = append(s.jobs, j)

	s.statusMu.Lock()
	s.states[name] = &jobState{job: j}
	s.statusMu.Unlock()
	return nil
}

// Start initializes the cron scheduler and begins executing registered jobs.
// Returns an error if any job has an invalid schedule expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.cron = cron.New(cron.WithParser(parser))

	for _, j := range s.jobs {
		job := j
		lock := s.locks[job.Name()]

		id, err := s.cron.AddFunc(job.Schedule(), func() {
			// If the previous tick is still running, skip this one.
			if !lock.TryLock() {
				s.logger.Warn("cron: job still running, skipping tick",
					"job", job.Name(),
				)
				return
			}
			defer lock.Unlock()

			_ = s.runJob(ctx, job, "schedule")
		})
		if err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", job.Name(), err)
		}

		s.statusMu.Lock()
		s.states[job.Name()].entry = id
		s.statusMu.Unlock()
	}

	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop shuts down the scheduler and waits for in-flight jobs until ctx
// expires. Running jobs see their context cancelled first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron == nil {
		return nil
	}

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("cron: scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: waiting for running jobs: %w", ctx.Err())
	}
}

// Trigger runs the named job immediately on the caller's goroutine and
// returns its error. It fails with ErrJobRunning when the job is already
// executing, and ErrUnknownJob when no such job is registered.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	lock, ok := s.locks[name]
	var job Job
	for _, j := range s.jobs {
		if j.Name() == name {
			job = j
			break
		}
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if !lock.TryLock() {
		return fmt.Errorf("%w: %q", ErrJobRunning, name)
	}
	defer lock.Unlock()

	return s.runJob(ctx, job, "manual")
}

// runJob executes job and records its outcome. The caller holds the job lock.
func (s *Scheduler) runJob(ctx context.Context, job Job, trigger string) error {
	name := job.Name()
	start := time.Now()
	s.setRunning(name, true)

	s.logger.Info("cron: job started", "job", name, "trigger", trigger)
	err := job.Run(ctx)
	elapsed := time.Since(start)

	s.statusMu.Lock()
	if st, ok := s.states[name]; ok {
		st.running = false
		st.lastRun = start
		st.lastDur = elapsed
		st.lastErr = ""
		if err != nil {
			st.lastErr = err.Error()
		}
	}
	s.statusMu.Unlock()

	if errors.Is(err, workflow.ErrRunInProgress) {
		s.logger.Warn("cron: job skipped, its run is held by another process", "job", name, "error", err)
		return err
	}
	s.metrics.ObserveJob(name, elapsed, err)
	if err != nil {
		s.logger.Error("cron: job failed",
			"job", name,
			"duration", elapsed,
			"error", err,
		)
		return err
	}
	s.logger.Info("cron: job completed", "job", name, "duration", elapsed)
	return nil
}

func (s *Scheduler) setRunning(name string, running bool) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st, ok := s.states[name]; ok {
		st.running = running
	}
}

// Jobs returns the status of every registered job in registration order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	c := s.cron
	s.mu.Unlock()

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		st := s.states[j.Name()]
		status := JobStatus{
			Name:         j.Name(),
			Schedule:     j.Schedule(),
			Running:      st.running,
			LastRun:      st.lastRun,
			LastDuration: st.lastDur,
			LastError:    st.lastErr,
		}
		if c != nil && st.entry != 0 {
			status.NextRun = c.Entry(st.entry).Next
		} else if sched, err := parser.Parse(j.Schedule()); err == nil {
			status.NextRun = sched.Next(time.Now())
		}
		out = append(out, status)
	}
	return out
}

// Has reports whether a job with the given name is registered.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.locks[name]
	return ok
}
