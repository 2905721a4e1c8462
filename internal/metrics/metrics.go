// Package metrics exposes darkroom's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the daemon updates.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted    prometheus.Counter
	JobsCompleted    prometheus.Counter
	JobsDeadLettered prometheus.Counter
	JobFailures      *prometheus.CounterVec
	RetriesScheduled prometheus.Counter

	DispatchSeconds prometheus.Histogram

	QueueDepth       *prometheus.GaugeVec
	ActiveWorkers    prometheus.Gauge
	ConcurrencyLimit prometheus.Gauge
	GovernorPaused   prometheus.Gauge
	GovernorThrottle prometheus.Gauge
}

// New builds a registry with darkroom's collectors plus the standard Go
// and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "darkroom_jobs_submitted_total",
			Help: "Jobs accepted for scheduling.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "darkroom_jobs_completed_total",
			Help: "Jobs that finished successfully.",
		}),
		JobsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "darkroom_jobs_dead_lettered_total",
			Help: "Jobs moved to the dead letter.",
		}),
		JobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "darkroom_job_failures_total",
			Help: "Dispatch failures by classification.",
		}, []string{"kind"}),
		RetriesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "darkroom_retries_scheduled_total",
			Help: "Timed retries scheduled for failed jobs.",
		}),
		DispatchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "darkroom_dispatch_duration_seconds",
			Help:    "Wall time of develop-engine dispatches.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "darkroom_queue_depth",
			Help: "Jobs per lifecycle status.",
		}, []string{"status"}),
		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "darkroom_active_workers",
			Help: "Workers currently dispatching a job.",
		}),
		ConcurrencyLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "darkroom_concurrency_limit",
			Help: "Governor-adjusted worker concurrency limit.",
		}),
		GovernorPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "darkroom_governor_paused",
			Help: "1 while thermal pressure pauses admission.",
		}),
		GovernorThrottle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "darkroom_governor_throttled",
			Help: "1 while CPU pressure halves concurrency.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobsSubmitted,
		m.JobsCompleted,
		m.JobsDeadLettered,
		m.JobFailures,
		m.RetriesScheduled,
		m.DispatchSeconds,
		m.QueueDepth,
		m.ActiveWorkers,
		m.ConcurrencyLimit,
		m.GovernorPaused,
		m.GovernorThrottle,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
