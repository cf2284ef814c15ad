// Package observability wires the prometheus metrics and OpenTelemetry
// tracing spec.md's ambient stack implies (the spec's Non-goals exclude
// bespoke dashboards, not instrumentation itself). Grounded on the
// teacher's internal/telemetry package (a small set of named counters
// and histograms registered once at startup, read by handlers through a
// package-level struct) generalized from lesson/course event counters to
// dispatch/execute counters.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the fixed set of counters/histograms the dispatcher and
// worker runtime update.
type Metrics struct {
	JobsDispatched  *prometheus.CounterVec
	JobsCompleted   *prometheus.CounterVec
	DispatchLatency *prometheus.HistogramVec
	ExecuteLatency  *prometheus.HistogramVec
	ActiveWorkers   *prometheus.GaugeVec
}

// NewMetrics registers every collector against registry and returns the
// handle components hold onto. Call with prometheus.NewRegistry() in
// tests to avoid the global default registry's double-registration
// panics across test runs.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		JobsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netpulse",
			Name:      "jobs_dispatched_total",
			Help:      "Jobs enqueued, by queue and strategy.",
		}, []string{"queue", "strategy"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netpulse",
			Name:      "jobs_completed_total",
			Help:      "Jobs that reached a terminal status, by queue and outcome.",
		}, []string{"queue", "status"}),
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netpulse",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in Manager.DispatchRPCJob/DispatchBulkRPCJobs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		ExecuteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "netpulse",
			Name:      "execute_duration_seconds",
			Help:      "Time spent in the execute pipeline per job.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"driver"}),
		ActiveWorkers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netpulse",
			Name:      "active_workers",
			Help:      "Workers currently registered, by state.",
		}, []string{"state"}),
	}
}

// Handler exposes registry on the conventional /metrics path.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
