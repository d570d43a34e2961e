package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/flemzord/insightd/internal/config"
	"github.com/flemzord/insightd/internal/core"
	"github.com/flemzord/insightd/internal/cron"
	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/provider"
	"github.com/flemzord/insightd/internal/security"
	"github.com/flemzord/insightd/internal/telemetry"
)

// Runtime is a configured, provisioned application. Run starts it; the
// one-shot CLI commands use it without starting the schedule.
type Runtime struct {
	App        *core.App
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Redactor   *security.Redactor
	Metrics    *telemetry.Metrics

	level          *slog.LevelVar
	shutdownTracer func(context.Context) error
}

// Load reads and validates the configuration, builds the redacting logger
// and shared services, and loads every configured module except those in
// skip. Close releases everything Load acquired.
func Load(ctx context.Context, params RunParams, skip ...string) (*Runtime, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	if params.LogLevel != nil {
		level = *params.LogLevel
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	redactor := security.NewRedactor()
	logger := security.NewLogger(os.Stderr, levelVar, redactor)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     params.Version,
	})
	if err != nil {
		return nil, err
	}

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("app: creating data dir: %w", err)
	}

	metrics := telemetry.NewMetrics()

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(security.ServiceRedactor, redactor)
	appCtx.RegisterService(telemetry.ServiceName, metrics)

	ids := slices.DeleteFunc(config.Resolve(cfg), func(id string) bool {
		return slices.Contains(skip, id)
	})

	application := core.NewApp(appCtx)
	if err := application.LoadModules(ids); err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}

	return &Runtime{
		App:            application,
		Config:         cfg,
		ConfigPath:     cfgPath,
		Logger:         logger,
		Redactor:       redactor,
		Metrics:        metrics,
		level:          levelVar,
		shutdownTracer: shutdownTracer,
	}, nil
}

// SetLogLevel changes the level of the process logger in place.
func (r *Runtime) SetLogLevel(level slog.Level) {
	r.level.Set(level)
}

// Scheduler returns the cron module, or an error when scheduler.cron is
// not configured.
func (r *Runtime) Scheduler() (*cron.Module, error) {
	jobs, ok := core.ServiceAs[*cron.Module](r.App.Context(), cron.ServiceJobs)
	if !ok {
		return nil, fmt.Errorf("app: module %s is not configured", cron.ModuleID)
	}
	return jobs, nil
}

// Insights returns the insight repository registered by the store module.
func (r *Runtime) Insights() (insight.Repository, error) {
	repo, ok := core.ServiceAs[insight.Repository](r.App.Context(), cron.ServiceInsights)
	if !ok {
		return nil, fmt.Errorf("app: no store module registered %q", cron.ServiceInsights)
	}
	return repo, nil
}

// ProviderStatus is the outcome of probing one model backend.
type ProviderStatus struct {
	Name string
	Err  error
}

// CheckProviders probes, in load order, every loaded provider module that
// supports health checks.
func (r *Runtime) CheckProviders(ctx context.Context) []ProviderStatus {
	var out []ProviderStatus
	for _, id := range r.App.ModuleIDs() {
		if !strings.HasPrefix(id, "provider.") {
			continue
		}
		hc, ok := core.ServiceAs[provider.HealthChecker](r.App.Context(), id)
		if !ok {
			continue
		}
		err := hc.HealthCheck(ctx)
		if err != nil {
			r.Logger.Warn("app: provider health check failed", "provider", id, "error", err)
		}
		out = append(out, ProviderStatus{Name: id, Err: err})
	}
	return out
}

// Close stops the modules and flushes pending spans.
func (r *Runtime) Close(ctx context.Context) {
	r.App.Stop()
	if err := r.shutdownTracer(ctx); err != nil {
		r.Logger.Warn("app: tracer shutdown", "error", err)
	}
}
