// Package telemetry owns the Prometheus metrics and OpenTelemetry tracer
// shared by the scheduler, workflow engine, and gateway.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceName is the service name used for metrics and the service registry.
const ServiceName = "telemetry.metrics"

// Metrics groups the process collectors. A nil *Metrics is valid and
// records nothing, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	jobRuns      *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	modelCalls   *prometheus.CounterVec
	refreshed    *prometheus.CounterVec
	stepsSkipped *prometheus.CounterVec
}

// NewMetrics creates a fresh registry with Go and process collectors plus
// the insightd collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightd",
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by outcome.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insightd",
			Name:      "job_duration_seconds",
			Help:      "Wall time of scheduled job executions.",
			Buckets:   []float64{.01, .1, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightd",
			Name:      "model_calls_total",
			Help:      "Generative model calls by model and outcome.",
		}, []string{"model", "status"}),
		refreshed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightd",
			Name:      "industries_refreshed_total",
			Help:      "Industry insight refreshes by outcome.",
		}, []string{"status"}),
		stepsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insightd",
			Name:      "workflow_steps_replayed_total",
			Help:      "Workflow steps answered from a checkpoint instead of executed.",
		}, []string{"workflow"}),
	}
	reg.MustRegister(m.jobRuns, m.jobDuration, m.modelCalls, m.refreshed, m.stepsSkipped)
	return m
}

// Registry exposes the underlying registry for tests and custom gatherers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveJob records one job execution.
func (m *Metrics) ObserveJob(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// ModelCall records one generative model call.
func (m *Metrics) ModelCall(model string, err error) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(model, status(err)).Inc()
}

// IndustryRefreshed records the outcome of one industry refresh.
func (m *Metrics) IndustryRefreshed(err error) {
	if m == nil {
		return
	}
	m.refreshed.WithLabelValues(status(err)).Inc()
}

// StepReplayed records a step served from its checkpoint.
func (m *Metrics) StepReplayed(workflow string) {
	if m == nil {
		return
	}
	m.stepsSkipped.WithLabelValues(workflow).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
