package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "iso_visibility"

// Metrics holds the Prometheus collectors for forecasting, caching, and
// notification decisions.
type Metrics struct {
	ForecastRequests *prometheus.CounterVec // labels: source={upstream,ephemeris_cache,visibility_cache,stale_cache,error}
	ForecastDuration prometheus.Histogram

	// Upstream ephemeris metrics.
	EphemerisFetches       *prometheus.CounterVec // labels: outcome={success,empty,not_found,error,circuit_open}
	EphemerisFetchDuration prometheus.Histogram
	EphemerisSamples       prometheus.Histogram
	CircuitBreakerOpen     prometheus.Gauge

	// Cache metrics.
	CacheLookups    *prometheus.CounterVec // labels: tier={ephemeris,visibility}, result={hit,miss,expired,corrupt}
	CacheErrors     *prometheus.CounterVec // labels: tier, op={get,set,delete,scan}
	CacheSweptTotal prometheus.Counter

	WindowEvents          *prometheus.CounterVec // labels: outcome={published,error}
	NotificationDecisions *prometheus.CounterVec // labels: category, result={allowed,no_preferences,unsubscribed,category_disabled,rate_limited}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		ForecastRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_requests_total",
			Help:      "Forecast requests by data source or error.",
		}, []string{"source"}),
		ForecastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      "Duration of forecast assembly including any upstream fetch.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		EphemerisFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ephemeris_fetches_total",
			Help:      "Upstream ephemeris requests by outcome.",
		}, []string{"outcome"}),
		EphemerisFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ephemeris_fetch_duration_seconds",
			Help:      "Horizons API request duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EphemerisSamples: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ephemeris_samples",
			Help:      "Number of samples returned per upstream fetch.",
			Buckets:   []float64{1, 24, 168, 360, 720, 1440, 2160},
		}),
		CircuitBreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ephemeris_circuit_open",
			Help:      "1 when the upstream circuit breaker is open, 0 otherwise.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Cache storage failures by tier and operation. The cache degrades to a miss.",
		}, []string{"tier", "op"}),
		CacheSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_swept_total",
			Help:      "Expired cache entries removed by sweeps.",
		}),
		WindowEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_events_total",
			Help:      "Observation-window events sent to Kafka by outcome.",
		}, []string{"outcome"}),
		NotificationDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_decisions_total",
			Help:      "Notification eligibility decisions by category and result.",
		}, []string{"category", "result"}),
	}

	prometheus.MustRegister(
		m.ForecastRequests,
		m.ForecastDuration,
		m.EphemerisFetches,
		m.EphemerisFetchDuration,
		m.EphemerisSamples,
		m.CircuitBreakerOpen,
		m.CacheLookups,
		m.CacheErrors,
		m.CacheSweptTotal,
		m.WindowEvents,
		m.NotificationDecisions,
	)

	return m
}

// NewUnregisteredMetrics creates Metrics that are not registered with the
// default registry, for one-shot tools that never serve /metrics.
func NewUnregisteredMetrics() *Metrics {
	return &Metrics{
		ForecastRequests:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "forecast_requests_total"}, []string{"source"}),
		ForecastDuration:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "forecast_duration_seconds"}),
		EphemerisFetches:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "ephemeris_fetches_total"}, []string{"outcome"}),
		EphemerisFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "ephemeris_fetch_duration_seconds"}),
		EphemerisSamples:       prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "ephemeris_samples"}),
		CircuitBreakerOpen:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ephemeris_circuit_open"}),
		CacheLookups:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "cache_lookups_total"}, []string{"tier", "result"}),
		CacheErrors:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "cache_errors_total"}, []string{"tier", "op"}),
		CacheSweptTotal:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "cache_swept_total"}),
		WindowEvents:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "window_events_total"}, []string{"outcome"}),
		NotificationDecisions:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "notification_decisions_total"}, []string{"category", "result"}),
	}
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewUnregisteredMetrics()
}
