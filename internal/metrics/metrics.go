// Package metrics exposes Prometheus collectors for the rank collector service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	collectorPagesTotal          *prometheus.CounterVec
	collectorPageDurationSeconds *prometheus.HistogramVec
	collectorPagesInFlight       prometheus.Gauge
	collectorRunsTotal           *prometheus.CounterVec
	collectorRunDurationSeconds  *prometheus.HistogramVec
	collectorRateLimitDelays     *prometheus.HistogramVec
	collectorCacheLookupsTotal   *prometheus.CounterVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		collectorPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_collector_pages_total",
				Help: "Total number of page fetches, labeled by scheduling mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		collectorPageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rank_collector_page_duration_seconds",
				Help:    "Histogram of page fetch latencies, labeled by scheduling mode and outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode", "outcome"},
		)

		collectorPagesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rank_collector_pages_in_flight",
				Help: "Number of page fetches currently outstanding.",
			},
		)

		collectorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_collector_runs_total",
				Help: "Total number of orchestration runs, labeled by mode and result.",
			},
			[]string{"mode", "result"},
		)

		collectorRunDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rank_collector_run_duration_seconds",
				Help:    "Histogram of orchestration run durations, labeled by mode.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		)

		collectorRateLimitDelays = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rank_collector_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations before upstream calls.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"key"},
		)

		collectorCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rank_collector_cache_lookups_total",
				Help: "Total number of response cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one finished page fetch.
func ObservePage(mode, outcome string, duration time.Duration) {
	Init()
	collectorPagesTotal.WithLabelValues(mode, outcome).Inc()
	collectorPageDurationSeconds.WithLabelValues(mode, outcome).Observe(duration.Seconds())
}

// IncPagesInFlight increments the in-flight gauge.
func IncPagesInFlight() {
	Init()
	collectorPagesInFlight.Inc()
}

// DecPagesInFlight decrements the in-flight gauge.
func DecPagesInFlight() {
	Init()
	collectorPagesInFlight.Dec()
}

// ObserveRun records a completed orchestration run.
func ObserveRun(mode, result string, duration time.Duration) {
	Init()
	collectorRunsTotal.WithLabelValues(mode, result).Inc()
	collectorRunDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	Init()
	collectorRateLimitDelays.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit, miss or error.
func ObserveCacheLookup(result string) {
	Init()
	collectorCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
