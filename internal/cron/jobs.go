package cron

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/flemzord/insightd/internal/insight"
	"github.com/flemzord/insightd/internal/workflow"
)

// Default schedules.
const (
	// DefaultKeepAliveSchedule fires at midnight every sixth day of the month.
	DefaultKeepAliveSchedule = "0 0 */6 * *"

	// DefaultInsightsSchedule fires at midnight every Sunday.
	DefaultInsightsSchedule = "0 0 * * 0"
)

// KeepAliveWorkflow identifies keep-alive runs in the workflow store.
const KeepAliveWorkflow = "keep-database-awake"

// pingQuery is the read-only query that resets the database idle timer.
const pingQuery = "SELECT 1 AS ping"

// Querier is the subset of *sql.DB needed by the keep-alive ping.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// KeepAliveJob pings the database so a hosted instance is never suspended
// for inactivity.
type KeepAliveJob struct {
	DB           Querier
	Engine       *workflow.Engine
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultKeepAliveSchedule
}

// Compile-time interface check.
var _ Job = (*KeepAliveJob)(nil)

// Name implements Job.
func (j *KeepAliveJob) Name() string { return "keepalive" }

// Schedule implements Job.
func (j *KeepAliveJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultKeepAliveSchedule
}

// Run issues one ping query inside a checkpointed step.
func (j *KeepAliveJob) Run(ctx context.Context) (err error) {
	ctx, run, err := j.Engine.Begin(ctx, KeepAliveWorkflow)
	if err != nil {
		return err
	}
	defer func() {
		if ferr := run.Finish(ctx, err); ferr != nil {
			j.Logger.Error("cron: recording keep-alive outcome", "error", ferr)
		}
	}()

	result, err := workflow.Step(ctx, run, "ping-database", func(ctx context.Context) (int, error) {
		var ping int
		if err := j.DB.QueryRowContext(ctx, pingQuery).Scan(&ping); err != nil {
			return 0, fmt.Errorf("cron: pinging database: %w", err)
		}
		return ping, nil
	})
	if err != nil {
		return err
	}

	j.Logger.Info("cron: database ping successful", "result", result)
	return nil
}

// InsightRefreshJob regenerates every industry's insights.
type InsightRefreshJob struct {
	Refresher    *insight.Refresher
	ScheduleExpr string // empty = DefaultInsightsSchedule
}

// Compile-time interface check.
var _ Job = (*InsightRefreshJob)(nil)

// Name implements Job.
func (j *InsightRefreshJob) Name() string { return "insights" }

// Schedule implements Job.
func (j *InsightRefreshJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultInsightsSchedule
}

// Run delegates to the refresher.
func (j *InsightRefreshJob) Run(ctx context.Context) error {
	return j.Refresher.Run(ctx)
}
