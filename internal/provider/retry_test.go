package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// stubProvider returns errs in order, then succeeds.
type stubProvider struct {
	errs  []error
	calls int
}

func (s *stubProvider) Complete(context.Context, CompletionRequest) (CompletionResponse, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return CompletionResponse{}, s.errs[s.calls-1]
	}
	return CompletionResponse{Content: "done"}, nil
}

func (s *stubProvider) ModelName() string { return "stub" }

func newTestRetrying(p Provider, cfg RetryConfig) (*Retrying, *[]time.Duration) {
	r := NewRetrying(p, cfg, nil)
	var slept []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetrying_SucceedsAfterTransientErrors(t *testing.T) {
	t.Parallel()

	inner := &stubProvider{errs: []error{ErrRateLimit, fmt.Errorf("http 503: %w", ErrProviderDown)}}
	r, slept := newTestRetrying(inner, RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute})

	resp, err := r.Complete(context.Background(), UserPrompt("x"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "done" {
		t.Errorf("content = %q", resp.Content)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*slept) != len(want) || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Errorf("backoffs = %v, want %v", *slept, want)
	}
}

func TestRetrying_NonRetryableReturnsImmediately(t *testing.T) {
	t.Parallel()

	inner := &stubProvider{errs: []error{ErrAuth}}
	r, slept := newTestRetrying(inner, RetryConfig{MaxAttempts: 5})

	_, err := r.Complete(context.Background(), UserPrompt("x"))
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("err = %v, want ErrAuth", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected sleeps: %v", *slept)
	}
}

func TestRetrying_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	inner := &stubProvider{errs: []error{ErrRateLimit, ErrRateLimit, ErrRateLimit, ErrRateLimit}}
	r, slept := newTestRetrying(inner, RetryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Second, MaxBackoff: 15 * time.Second})

	_, err := r.Complete(context.Background(), UserPrompt("x"))
	if !errors.Is(err, ErrRateLimit) {
		t.Fatalf("err = %v, want ErrRateLimit", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
	// Second backoff is capped at MaxBackoff.
	if len(*slept) != 2 || (*slept)[1] != 15*time.Second {
		t.Errorf("backoffs = %v", *slept)
	}
}

func TestRetrying_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	inner := &stubProvider{errs: []error{ErrProviderDown}}
	r := NewRetrying(inner, RetryConfig{InitialBackoff: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Complete(ctx, UserPrompt("x"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
