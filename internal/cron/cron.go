// Package cron schedules the periodic background jobs of insightd: the
// database keep-alive ping and the weekly industry insight refresh.
package cron

import (
	"context"
	"errors"
)

// Job defines a periodic background task.
type Job interface {
	// Name returns a unique identifier for this job (used for logging,
	// triggering, and dedup).
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "0 0 * * 0").
	Schedule() string

	// Run executes the job. Implementations should check ctx.Done() for
	// graceful cancellation.
	Run(ctx context.Context) error
}

// Sentinel errors for manual triggers.
var (
	// ErrUnknownJob indicates no job with the requested name is registered.
	ErrUnknownJob = errors.New("cron: unknown job")

	// ErrJobRunning indicates the job is already executing.
	ErrJobRunning = errors.New("cron: job already running")
)
