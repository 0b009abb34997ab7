package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the router exposes on /metrics behind
// its own prometheus.Registry rather than the global DefaultRegisterer,
// so that multiple routers (as in tests) can coexist in one process.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	WorkersReady         prometheus.Gauge
	PolicySelections     *prometheus.CounterVec
	TreeNodes            prometheus.Gauge
	TreeChars            prometheus.Gauge
	DiscoveryEventsTotal *prometheus.CounterVec
	WorkerProbeDuration  prometheus.Histogram
}

// NewRegistry creates and registers all router metrics.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgl_router_requests_total",
				Help: "Total number of requests handled by route and status code",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sgl_router_request_duration_seconds",
				Help:    "Request handling duration in seconds by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		WorkersReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sgl_router_workers_ready",
				Help: "Number of workers currently Ready in the registry",
			},
		),
		PolicySelections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgl_router_policy_selections_total",
				Help: "Total number of worker selections by policy and chosen worker",
			},
			[]string{"policy", "worker"},
		),
		TreeNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sgl_router_tree_nodes",
				Help: "Number of nodes currently in the prefix tree",
			},
		),
		TreeChars: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sgl_router_tree_chars",
				Help: "Cumulative edge character count currently in the prefix tree",
			},
		),
		DiscoveryEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgl_router_discovery_events_total",
				Help: "Total number of discovery commands processed by kind",
			},
			[]string{"kind"},
		),
		WorkerProbeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sgl_router_worker_probe_duration_seconds",
				Help:    "Time taken for a worker startup probe to succeed or time out",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	r.reg.MustRegister(
		r.RequestsTotal,
		r.RequestDuration,
		r.WorkersReady,
		r.PolicySelections,
		r.TreeNodes,
		r.TreeChars,
		r.DiscoveryEventsTotal,
		r.WorkerProbeDuration,
	)

	return r
}

// Handler returns the Prometheus HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
