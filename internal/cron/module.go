package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/provider"
	"github.com/flemzord/insightd/internal/telemetry"
	"github.com/flemzord/insightd/internal/workflow"
	"gopkg.in/yaml.v3"
)

// ModuleID is the registry ID of the scheduler module.
const ModuleID = "scheduler.cron"

// Service names consumed and exposed by the module.
const (
	ServiceDatabase = "store.database"
	ServiceInsights = "store.insights"
	ServiceWorkflow = "workflow.store"
	ServiceJobs     = "scheduler.jobs"
)

// historyDepth is how many persisted runs Jobs inspects per job.
const historyDepth = 20

// jobWorkflows maps job names to the workflow their runs are recorded under.
var jobWorkflows = map[string]string{
	"keepalive": KeepAliveWorkflow,
	"insights":  insight.WorkflowName,
}

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
	_ core.Reloader     = (*Module)(nil)
)

// Module owns the Scheduler and wires the keep-alive and insight jobs to
// the services registered by the store and provider modules.
type Module struct {
	config  Config
	appCtx  *core.AppContext
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu        sync.Mutex
	scheduler *Scheduler
	engine    *workflow.Engine
	prepared  bool
	resumeWG  sync.WaitGroup
	resumeCtx context.Context
	cancel    context.CancelFunc
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("cron: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.metrics, _ = core.ServiceAs[*telemetry.Metrics](ctx, telemetry.ServiceName)
	m.scheduler = NewScheduler(m.logger, m.metrics)
	ctx.RegisterService(ServiceJobs, m)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Prepare resolves the services the jobs depend on and registers the
// enabled jobs. Start calls it; the CLI calls it directly to trigger a job
// without starting the schedule. It is idempotent.
func (m *Module) Prepare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prepared {
		return nil
	}
	s, engine, err := m.buildScheduler(m.config)
	if err != nil {
		return err
	}
	m.scheduler = s
	m.engine = engine
	m.prepared = true
	return nil
}

// buildScheduler creates a scheduler with the jobs enabled in cfg and the
// workflow engine they share.
func (m *Module) buildScheduler(cfg Config) (*Scheduler, *workflow.Engine, error) {
	wfStore, ok := core.ServiceAs[workflow.Store](m.appCtx, ServiceWorkflow)
	if !ok {
		m.logger.Warn("cron: no workflow store registered, checkpoints will not survive a restart")
		wfStore = workflow.NewMemoryStore()
	}
	engine := workflow.NewEngine(wfStore, workflow.Config{
		Logger:       m.logger,
		Metrics:      m.metrics,
		ResumeWindow: cfg.ResumeWindow,
		Lease:        cfg.Lease,
	})

	s := NewScheduler(m.logger, m.metrics)

	if enabled(cfg.KeepAlive.Enabled) {
		db, ok := core.ServiceAs[Querier](m.appCtx, ServiceDatabase)
		if !ok {
			return nil, nil, fmt.Errorf("cron: keepalive requires service %q", ServiceDatabase)
		}
		if err := s.RegisterJob(&KeepAliveJob{
			DB:           db,
			Engine:       engine,
			Logger:       m.logger,
			ScheduleExpr: cfg.KeepAlive.Schedule,
		}); err != nil {
			return nil, nil, err
		}
	}

	if enabled(cfg.Insights.Enabled) {
		store, ok := core.ServiceAs[insight.Store](m.appCtx, ServiceInsights)
		if !ok {
			return nil, nil, fmt.Errorf("cron: insights requires service %q", ServiceInsights)
		}
		model, ok := core.ServiceAs[provider.Provider](m.appCtx, cfg.Provider)
		if !ok {
			return nil, nil, fmt.Errorf("cron: insights provider %q: %w", cfg.Provider, provider.ErrNoProvider)
		}
		refresher := &insight.Refresher{
			Store: store,
			Provider: provider.NewRetrying(model, provider.RetryConfig{
				MaxAttempts:    cfg.Retry.MaxAttempts,
				InitialBackoff: cfg.Retry.InitialBackoff,
				MaxBackoff:     cfg.Retry.MaxBackoff,
			}, m.logger),
			Engine:          engine,
			Logger:          m.logger,
			Metrics:         m.metrics,
			RefreshInterval: cfg.Insights.RefreshInterval,
			AbortOnError:    cfg.Insights.AbortOnError,
		}
		if err := s.RegisterJob(&InsightRefreshJob{
			Refresher:    refresher,
			ScheduleExpr: cfg.Insights.Schedule,
		}); err != nil {
			return nil, nil, err
		}
	}

	return s, engine, nil
}

// Start implements core.Starter.
func (m *Module) Start() error {
	if err := m.Prepare(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.scheduler.Start(); err != nil {
		return err
	}
	m.resumeCtx, m.cancel = context.WithCancel(context.Background())
	if enabled(m.config.ResumeInterrupted) {
		m.resumeInterrupted(m.resumeCtx, m.scheduler, m.engine)
	}
	return nil
}

// resumeInterrupted triggers, in the background, every job whose last run
// never finished. A run still leased by another process is left alone until
// its lease lapses. Caller holds m.mu.
func (m *Module) resumeInterrupted(ctx context.Context, s *Scheduler, engine *workflow.Engine) {
	for name, wf := range jobWorkflows {
		if !s.Has(name) {
			continue
		}
		run, ok, err := engine.Interrupted(ctx, wf)
		if err != nil {
			m.logger.Warn("cron: checking for interrupted runs", "job", name, "error", err)
			continue
		}
		if !ok {
			continue
		}
		wait := max(time.Until(engine.LeaseExpiry(run)), 0)
		m.logger.Info("cron: resuming interrupted job", "job", name, "run", run.ID, "owner", run.Owner, "lease_wait", wait)
		m.resumeWG.Add(1)
		go func() {
			defer m.resumeWG.Done()
			if wait > 0 {
				t := time.NewTimer(wait)
				defer t.Stop()
				select {
				case <-ctx.Done():
					return
				case <-t.C:
				}
			}
			err := s.Trigger(ctx, name)
			switch {
			case err == nil, errors.Is(err, ErrJobRunning):
			case errors.Is(err, workflow.ErrRunInProgress):
				m.logger.Info("cron: interrupted job is still running elsewhere", "job", name, "run", run.ID)
			default:
				m.logger.Error("cron: resumed job failed", "job", name, "error", err)
			}
		}()
	}
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	err := m.scheduler.Stop(ctx)
	m.resumeWG.Wait()
	return err
}

// Reload implements core.Reloader. The new configuration is validated
// before the running schedule is replaced; on failure the old schedule
// keeps running. The new schedule gets its own engine, so a run still
// held by the old one is refused by the lease rather than started twice.
func (m *Module) Reload(ctx *core.AppContext) error {
	node, ok := ctx.ModuleConfig(ModuleID)
	if !ok {
		return fmt.Errorf("cron: no configuration for %s", ModuleID)
	}
	var cfg Config
	if err := node.Decode(&cfg); err != nil {
		return fmt.Errorf("cron: decode config: %w", err)
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	next, engine, err := m.buildScheduler(cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.scheduler.Stop(stopCtx); err != nil {
		m.logger.Warn("cron: previous schedule did not stop cleanly", "error", err)
	}
	if err := next.Start(); err != nil {
		return err
	}
	m.scheduler = next
	m.engine = engine
	m.config = cfg
	m.prepared = true
	m.logger.Info("cron: schedule reloaded", "jobs", len(next.Jobs()))
	return nil
}

// Trigger runs a job immediately. See Scheduler.Trigger.
func (m *Module) Trigger(ctx context.Context, name string) error {
	if err := m.Prepare(); err != nil {
		return err
	}
	m.mu.Lock()
	s := m.scheduler
	m.mu.Unlock()
	return s.Trigger(ctx, name)
}

// Jobs returns the status of every registered job. Persisted run history
// overrides the in-memory view when it is newer, so a process that never
// ran a job itself, such as the MCP server, reports the daemon's runs.
func (m *Module) Jobs(ctx context.Context) []JobStatus {
	m.mu.Lock()
	s, engine := m.scheduler, m.engine
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	jobs := s.Jobs()
	if engine == nil {
		return jobs
	}
	for i := range jobs {
		wf, ok := jobWorkflows[jobs[i].Name]
		if !ok {
			continue
		}
		runs, err := engine.Store().ListRuns(ctx, wf, historyDepth)
		if err != nil {
			m.logger.Warn("cron: loading run history", "job", jobs[i].Name, "error", err)
			continue
		}
		applyHistory(&jobs[i], runs, engine)
	}
	return jobs
}

// applyHistory merges persisted runs, newest first, into st.
func applyHistory(st *JobStatus, runs []workflow.RunRecord, engine *workflow.Engine) {
	if len(runs) == 0 {
		return
	}
	latest := runs[0]
	st.LastRunID = latest.ID
	st.LastState = string(latest.State)
	if engine.Live(latest) {
		st.Running = true
		st.Owner = latest.Owner
	}
	if !latest.StartedAt.Before(st.LastRun) {
		st.LastRun = latest.StartedAt
		st.LastError = latest.Error
		st.LastDuration = 0
		if !latest.FinishedAt.IsZero() {
			st.LastDuration = latest.FinishedAt.Sub(latest.StartedAt)
		}
	}
	for _, r := range runs {
		if r.State == workflow.StateCompleted {
			st.LastSuccess = r.FinishedAt
			break
		}
	}
}
