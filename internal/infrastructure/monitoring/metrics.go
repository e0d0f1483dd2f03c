package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Each instance owns its registry so
// several builders (or tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Application metrics
	AppsRealized        *prometheus.CounterVec
	AppsDestroyed       *prometheus.CounterVec
	RealizeFailures     *prometheus.CounterVec
	AppsActive          prometheus.Gauge
	InterceptorFailures *prometheus.CounterVec
	TeardownDuration    prometheus.Histogram

	// Deferred evaluation metrics
	DeferredOutcomes *prometheus.CounterVec
	DeferredAttempts prometheus.Histogram
	DeferredDuration prometheus.Histogram

	// Submission metrics
	Submissions *prometheus.CounterVec
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AppsRealized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apprun_applications_realized_total",
				Help: "Total number of applications realized",
			},
			[]string{"strategy"},
		),
		AppsDestroyed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apprun_applications_destroyed_total",
				Help: "Total number of applications destroyed",
			},
			[]string{"strategy"},
		),
		RealizeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apprun_realize_failures_total",
				Help: "Total number of failed realizations",
			},
			[]string{"strategy"},
		),
		AppsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "apprun_applications_active",
				Help: "Number of realized applications not yet destroyed",
			},
		),
		InterceptorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apprun_interceptor_failures_total",
				Help: "Total number of lifecycle interceptor failures",
			},
			[]string{"event"},
		),
		TeardownDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apprun_teardown_duration_seconds",
				Help:    "Time spent destroying an application",
				Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		DeferredOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apprun_deferred_outcomes_total",
				Help: "Deferred evaluations by terminal state",
			},
			[]string{"state"},
		),
		DeferredAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apprun_deferred_attempts",
				Help:    "Probe attempts per deferred evaluation",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		DeferredDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apprun_deferred_duration_seconds",
				Help:    "Time from first probe to terminal state",
				Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apprun_submissions_total",
				Help: "Units of work submitted to running applications",
			},
			[]string{"result"},
		),
	}
}

// Registry exposes the underlying registry for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRealized records a successful realization.
func (m *Metrics) RecordRealized(strategy string) {
	if m == nil {
		return
	}
	m.AppsRealized.WithLabelValues(strategy).Inc()
	m.AppsActive.Inc()
}

// RecordRealizeFailure records a failed realization.
func (m *Metrics) RecordRealizeFailure(strategy string) {
	if m == nil {
		return
	}
	m.RealizeFailures.WithLabelValues(strategy).Inc()
}

// RecordDestroyed records a completed teardown.
func (m *Metrics) RecordDestroyed(strategy string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AppsDestroyed.WithLabelValues(strategy).Inc()
	m.AppsActive.Dec()
	m.TeardownDuration.Observe(duration.Seconds())
}

// RecordInterceptorFailures records interceptor errors for an event.
func (m *Metrics) RecordInterceptorFailures(event string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.InterceptorFailures.WithLabelValues(event).Add(float64(count))
}

// RecordSubmission records the outcome of a unit of work.
func (m *Metrics) RecordSubmission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

// ObserveDeferred records a deferred evaluation reaching a terminal state.
func (m *Metrics) ObserveDeferred(state string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DeferredOutcomes.WithLabelValues(state).Inc()
	m.DeferredAttempts.Observe(float64(attempts))
	m.DeferredDuration.Observe(elapsed.Seconds())
}
