package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/insightd/internal/provider"
	"github.com/flemzord/insightd/internal/telemetry"
	"github.com/flemzord/insightd/internal/workflow"
)

// WorkflowName identifies refresh runs in the workflow store.
const WorkflowName = "generate-industry-insights"

// DefaultRefreshInterval is the gap between lastUpdated and nextUpdate.
const DefaultRefreshInterval = 7 * 24 * time.Hour

// Step names. Per-industry steps append ":" and the industry name.
const (
	stepFetchIndustries = "fetch-industries"
	stepGeneratePrefix  = "generate:"
	stepUpdatePrefix    = "update:"
)

// Refresher regenerates the insights of every stored industry.
type Refresher struct {
	Store    Store
	Provider provider.Provider
	Engine   *workflow.Engine
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics

	// RefreshInterval defaults to DefaultRefreshInterval.
	RefreshInterval time.Duration

	// AbortOnError stops the batch at the first failing industry instead
	// of continuing with the rest.
	AbortOnError bool

	// Now is injectable for testing. Defaults to time.Now.
	Now func() time.Time
}

// Timestamps is the checkpointed result of an update step.
type Timestamps struct {
	LastUpdated time.Time `json:"lastUpdated"`
	NextUpdate  time.Time `json:"nextUpdate"`
}

// Run refreshes every industry in sequence. A failing industry is logged
// and skipped; the returned error joins every per-industry failure.
func (r *Refresher) Run(ctx context.Context) (err error) {
	ctx, run, err := r.Engine.Begin(ctx, WorkflowName)
	if err != nil {
		return err
	}
	defer func() {
		if ferr := run.Finish(ctx, err); ferr != nil {
			r.logger().Error("insight: recording run outcome", "run", run.ID(), "error", ferr)
		}
	}()

	industries, err := workflow.Step(ctx, run, stepFetchIndustries, func(ctx context.Context) ([]string, error) {
		names, err := r.Store.ListIndustries(ctx)
		if err != nil {
			return nil, fmt.Errorf("insight: listing industries: %w", err)
		}
		return names, nil
	})
	if err != nil {
		return err
	}

	r.logger().Info("insight: refreshing industries", "count", len(industries), "run", run.ID(), "resumed", run.Resumed())

	var errs []error
	for _, industry := range industries {
		if cause := context.Cause(ctx); cause != nil {
			errs = append(errs, cause)
			break
		}

		ierr := r.refreshIndustry(ctx, run, industry)
		r.Metrics.IndustryRefreshed(ierr)
		if ierr == nil {
			r.logger().Info("insight: industry refreshed", "industry", industry)
			continue
		}

		ierr = fmt.Errorf("insight: refreshing %q: %w", industry, ierr)
		r.logger().Error("insight: industry refresh failed", "industry", industry, "error", ierr)
		if r.AbortOnError {
			return ierr
		}
		errs = append(errs, ierr)
	}
	return errors.Join(errs...)
}

// refreshIndustry runs the generate and update steps of one industry.
func (r *Refresher) refreshIndustry(ctx context.Context, run *workflow.Run, industry string) error {
	text, err := workflow.Step(ctx, run, stepGeneratePrefix+industry, func(ctx context.Context) (string, error) {
		resp, err := r.Provider.Complete(ctx, provider.UserPrompt(Prompt(industry)))
		r.Metrics.ModelCall(r.Provider.ModelName(), err)
		if err != nil {
			return "", fmt.Errorf("generating insights: %w", err)
		}
		return resp.Content, nil
	})
	if err != nil {
		return err
	}

	insights, err := ParseInsights(text)
	if err != nil {
		return err
	}

	_, err = workflow.Step(ctx, run, stepUpdatePrefix+industry, func(ctx context.Context) (Timestamps, error) {
		now := r.now()
		ts := Timestamps{LastUpdated: now, NextUpdate: now.Add(r.interval())}
		if err := r.Store.UpdateInsights(ctx, industry, insights, ts.LastUpdated, ts.NextUpdate); err != nil {
			return Timestamps{}, fmt.Errorf("updating record: %w", err)
		}
		return ts, nil
	})
	return err
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Refresher) interval() time.Duration {
	if r.RefreshInterval > 0 {
		return r.RefreshInterval
	}
	return DefaultRefreshInterval
}

func (r *Refresher) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
