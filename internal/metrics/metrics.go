// Package metrics exposes Prometheus collectors for the crawl pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchDurationSeconds *prometheus.HistogramVec
	fetchesTotal         *prometheus.CounterVec
	breakerState         prometheus.Gauge
	activeWorkers        prometheus.Gauge
	cacheOpsTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Latency of page fetches, labeled by transport and result.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport", "result"},
		)
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total page fetches, labeled by transport and result.",
			},
			[]string{"transport", "result"},
		)
		breakerState = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_circuit_breaker_open",
				Help: "1 when the pool circuit breaker is open, 0 otherwise.",
			},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)
		cacheOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_cache_ops_total",
				Help: "Cache operations, labeled by op (hit, miss, eviction).",
			},
			[]string{"op"},
		)
	})
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(transport, result string, dur time.Duration) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(transport, result).Inc()
	fetchDurationSeconds.WithLabelValues(transport, result).Observe(dur.Seconds())
}

// SetBreakerOpen flips the circuit breaker gauge.
func SetBreakerOpen(open bool) {
	if breakerState == nil {
		return
	}
	if open {
		breakerState.Set(1)
		return
	}
	breakerState.Set(0)
}

// WorkerStarted and WorkerFinished track the active worker gauge.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// CacheOp counts a cache hit, miss, or invalidation.
func CacheOp(op string) {
	if cacheOpsTotal != nil {
		cacheOpsTotal.WithLabelValues(op).Inc()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a metrics listener on addr. It returns immediately; the
// listener runs until the process exits.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
