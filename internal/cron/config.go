package cron

import (
	"errors"
	"fmt"
	"time"
)

const defaultProvider = "provider.gemini"

// Config holds the scheduler.cron module configuration.
type Config struct {
	// Provider is the service name of the model backend. Defaults to
	// "provider.gemini".
	Provider string `yaml:"provider"`

	// ResumeInterrupted re-runs, at startup, any job whose last run was
	// interrupted inside the resume window. Defaults to true.
	ResumeInterrupted *bool `yaml:"resume_interrupted"`

	// ResumeWindow bounds how old an interrupted run may be. Defaults to 24h.
	ResumeWindow time.Duration `yaml:"resume_window"`

	// Lease is how long a run stays owned by this process without a
	// heartbeat. Another process sharing the database resumes the run only
	// after it lapses. Defaults to one minute.
	Lease time.Duration `yaml:"lease"`

	Retry     RetryConfig     `yaml:"retry"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Insights  InsightsConfig  `yaml:"insights"`
}

// RetryConfig configures retries of transient model errors.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// KeepAliveConfig configures the database keep-alive job.
type KeepAliveConfig struct {
	// Enabled defaults to true.
	Enabled  *bool  `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

// InsightsConfig configures the insight refresh job.
type InsightsConfig struct {
	// Enabled defaults to true.
	Enabled         *bool         `yaml:"enabled"`
	Schedule        string        `yaml:"schedule"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	AbortOnError    bool          `yaml:"abort_on_error"`
}

func (c *Config) defaults() {
	if c.Provider == "" {
		c.Provider = defaultProvider
	}
	if c.KeepAlive.Schedule == "" {
		c.KeepAlive.Schedule = DefaultKeepAliveSchedule
	}
	if c.Insights.Schedule == "" {
		c.Insights.Schedule = DefaultInsightsSchedule
	}
	if c.Insights.RefreshInterval == 0 {
		c.Insights.RefreshInterval = 7 * 24 * time.Hour
	}
}

func enabled(b *bool) bool {
	return b == nil || *b
}

func (c *Config) validate() error {
	var errs []error
	if enabled(c.KeepAlive.Enabled) {
		if err := ParseSchedule(c.KeepAlive.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("keepalive: %w", err))
		}
	}
	if enabled(c.Insights.Enabled) {
		if err := ParseSchedule(c.Insights.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("insights: %w", err))
		}
		if c.Insights.RefreshInterval < 0 {
			errs = append(errs, fmt.Errorf("cron: insights.refresh_interval must be positive, got %s", c.Insights.RefreshInterval))
		}
	}
	if c.Lease < 0 {
		errs = append(errs, fmt.Errorf("cron: lease must be positive, got %s", c.Lease))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("cron: retry.max_attempts must be non-negative, got %d", c.Retry.MaxAttempts))
	}
	return errors.Join(errs...)
}
