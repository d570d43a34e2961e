// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"time"

	"github.com/flemzord/insightd/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

// Compile-time interface check.
var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// Triggerer is the manual-run surface of the scheduler module, shared by
// the CLI and tests.
type Triggerer interface {
	Trigger(ctx context.Context, name string) error
	Jobs(ctx context.Context) []cron.JobStatus
}

// MockTriggerer records triggers and returns canned statuses.
type MockTriggerer struct {
	TriggerFunc func(ctx context.Context, name string) error
	Statuses    []cron.JobStatus

	mu        sync.Mutex
	Triggered []string
}

// Trigger implements Triggerer.
func (m *MockTriggerer) Trigger(ctx context.Context, name string) error {
	m.mu.Lock()
	m.Triggered = append(m.Triggered, name)
	m.mu.Unlock()
	if m.TriggerFunc != nil {
		return m.TriggerFunc(ctx, name)
	}
	return nil
}

// Jobs implements Triggerer.
func (m *MockTriggerer) Jobs(context.Context) []cron.JobStatus { return m.Statuses }
