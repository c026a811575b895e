// Package metrics exposes Prometheus collectors for the acquisition pipeline.
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
	acquisitionsTotal          *prometheus.CounterVec
	acquisitionDurationSeconds *prometheus.HistogramVec
	retriesTotal               *prometheus.CounterVec
	fallbacksTotal             *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	mediaBytesTotal            *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		acquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_acquisitions_total",
				Help: "Total acquisitions, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		acquisitionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_acquisition_duration_seconds",
				Help:    "Histogram of end-to-end acquisition latencies, labeled by platform.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"platform"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_retries_total",
				Help: "Total transient-failure retries, labeled by platform.",
			},
			[]string{"platform"},
		)

		fallbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_strategy_fallbacks_total",
				Help: "Total degradation-ladder advances, labeled by platform.",
			},
			[]string{"platform"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_cache_lookups_total",
				Help: "Total cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		mediaBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_media_bytes_total",
				Help: "Total media bytes persisted, labeled by platform.",
			},
			[]string{"platform"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAcquisition records one finished acquisition.
func ObserveAcquisition(platform, outcome string, duration time.Duration) {
	if acquisitionsTotal == nil {
		return
	}
	acquisitionsTotal.WithLabelValues(platform, outcome).Inc()
	acquisitionDurationSeconds.WithLabelValues(platform).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter for a platform.
func ObserveRetry(platform string) {
	if retriesTotal == nil {
		return
	}
	retriesTotal.WithLabelValues(platform).Inc()
}

// ObserveFallback increments the ladder-advance counter for a platform.
func ObserveFallback(platform string) {
	if fallbacksTotal == nil {
		return
	}
	fallbacksTotal.WithLabelValues(platform).Inc()
}

// ObserveCacheLookup records a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if cacheLookupsTotal == nil {
		return
	}
	if hit {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
}

// ObserveMediaBytes adds persisted media bytes for a platform.
func ObserveMediaBytes(platform string, n int) {
	if mediaBytesTotal == nil || n <= 0 {
		return
	}
	mediaBytesTotal.WithLabelValues(platform).Add(float64(n))
}
