// Package metrics exports cache and engine statistics as Prometheus
// metrics, following the metrics-registration idiom used across the
// retrieved corpus's service examples (counters/gauges registered once,
// updated from the hot path without blocking it).
//
// A Recorder is inert until Register is called against a real
// prometheus.Registerer, so embedding one in a Client never requires the
// host application to run a metrics endpoint.
package metrics

import (
	"github.com/orneryd/rquery/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder tracks cache and engine counters for Prometheus scraping.
type Recorder struct {
	cacheSize      prometheus.Gauge
	cacheHits      prometheus.Gauge
	cacheMisses    prometheus.Gauge
	cacheEvictions prometheus.Gauge

	fetchAttempts  *prometheus.CounterVec
	fetchRetries   *prometheus.CounterVec
	fetchFailures  *prometheus.CounterVec
	backgroundFailures *prometheus.CounterVec
}

// NewRecorder constructs a Recorder. Call Register to attach it to a
// prometheus.Registerer before metrics become visible to a scraper.
func NewRecorder() *Recorder {
	return &Recorder{
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rquery_cache_entries",
			Help: "Current number of live cache entries.",
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rquery_cache_hits_total",
			Help: "Total cache hits observed in the last snapshot.",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rquery_cache_misses_total",
			Help: "Total cache misses observed in the last snapshot.",
		}),
		cacheEvictions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rquery_cache_evictions_total",
			Help: "Total cache evictions (LRU or TTL) observed in the last snapshot.",
		}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rquery_fetch_attempts_total",
			Help: "Total query and infinite-query fetch invocations, including retries.",
		}, []string{"key"}),
		fetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rquery_fetch_retries_total",
			Help: "Total retry attempts after a failed fetch.",
		}, []string{"key"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rquery_fetch_failures_total",
			Help: "Total fetches that failed after exhausting retries.",
		}, []string{"key"}),
		backgroundFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rquery_background_refresh_failures_total",
			Help: "Total background refreshes that failed without clobbering visible state.",
		}, []string{"key"}),
	}
}

// Register attaches every collector to reg.
func (r *Recorder) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		r.cacheSize, r.cacheHits, r.cacheMisses, r.cacheEvictions,
		r.fetchAttempts, r.fetchRetries, r.fetchFailures, r.backgroundFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveCacheStats copies a cache.Stats snapshot into the gauges. Stats
// holds lifetime totals rather than deltas since the last scrape, so these
// are Prometheus gauges set to the snapshot value rather than counters
// incremented by it.
func (r *Recorder) ObserveCacheStats(s cache.Stats) {
	r.cacheSize.Set(float64(s.TotalEntries))
	r.cacheHits.Set(float64(s.HitCount))
	r.cacheMisses.Set(float64(s.MissCount))
	r.cacheEvictions.Set(float64(s.EvictionCount))
}

// RecordFetchAttempt increments the per-key attempt counter.
func (r *Recorder) RecordFetchAttempt(key string) {
	r.fetchAttempts.WithLabelValues(key).Inc()
}

// RecordFetchRetry increments the per-key retry counter.
func (r *Recorder) RecordFetchRetry(key string) {
	r.fetchRetries.WithLabelValues(key).Inc()
}

// RecordFetchFailure increments the per-key terminal-failure counter.
func (r *Recorder) RecordFetchFailure(key string) {
	r.fetchFailures.WithLabelValues(key).Inc()
}

// RecordBackgroundFailure increments the per-key background-refresh-failure
// counter.
func (r *Recorder) RecordBackgroundFailure(key string) {
	r.backgroundFailures.WithLabelValues(key).Inc()
}
