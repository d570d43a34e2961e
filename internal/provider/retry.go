package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryConfig controls the Retrying wrapper.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	// Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay after the first failure. Default: 1s.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential backoff duration. Default: 30s.
	MaxBackoff time.Duration
}

// defaults fills zero-value fields with sensible defaults.
func (c *RetryConfig) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Retrying wraps a Provider and retries Complete on transient errors
// (see IsRetryable) with exponential backoff. Non-retryable errors are
// returned immediately.
type Retrying struct {
	inner  Provider
	cfg    RetryConfig
	logger *slog.Logger

	// sleep is injectable for testing. It must return ctx.Err() when the
	// context ends before d elapses.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps p. A nil logger discards retry logs.
func NewRetrying(p Provider, cfg RetryConfig, logger *slog.Logger) *Retrying {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retrying{inner: p, cfg: cfg, logger: logger, sleep: sleepCtx}
}

// Complete implements Provider.
func (r *Retrying) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var backoff time.Duration
	for attempt := 1; ; attempt++ {
		resp, err := r.inner.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) || attempt >= r.cfg.MaxAttempts {
			if attempt > 1 {
				return CompletionResponse{}, fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return CompletionResponse{}, err
		}

		if backoff == 0 {
			backoff = r.cfg.InitialBackoff
		} else {
			backoff *= 2
		}
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}

		r.logger.Warn("provider call failed, retrying",
			"model", r.inner.ModelName(),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return CompletionResponse{}, err
		}
	}
}

// ModelName implements Provider.
func (r *Retrying) ModelName() string { return r.inner.ModelName() }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Interface guard.
var _ Provider = (*Retrying)(nil)
