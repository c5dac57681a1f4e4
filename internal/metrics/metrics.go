// Package metrics collects fetch pipeline metrics in a Prometheus registry.
//
// forcedphot is a short-lived CLI, so metrics are not scraped; when
// metrics.textfile is configured the registry is written in text exposition
// format on exit, for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forcedphot"

// outcomeOK labels successful fetches.
const outcomeOK = "ok"

// Collector implements atlas.Metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	rateLimitWaits prometheus.Counter
	rateLimitSecs  prometheus.Counter
	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Fetches answered from a fresh cache entry",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Fetches that went to the service",
		}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Queue submissions throttled by the service",
		}),
		rateLimitSecs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Time spent waiting out service throttling",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Completed fetches by outcome code",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "End-to-end fetch duration",
			// Fetches span a cache hit (ms) to a full poll cycle (minutes).
			Buckets: []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}

	c.registry.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.rateLimitWaits,
		c.rateLimitSecs,
		c.fetches,
		c.fetchDuration,
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// CacheHit records a fresh cache entry served.
func (c *Collector) CacheHit() { c.cacheHits.Inc() }

// CacheMiss records a fetch that needed the service.
func (c *Collector) CacheMiss() { c.cacheMisses.Inc() }

// RateLimitWait records one throttled submission and its wait.
func (c *Collector) RateLimitWait(d time.Duration) {
	c.rateLimitWaits.Inc()
	c.rateLimitSecs.Add(d.Seconds())
}

// FetchFinished records a fetch outcome. An empty code means success.
func (c *Collector) FetchFinished(code string, d time.Duration) {
	if code == "" {
		code = outcomeOK
	}
	c.fetches.WithLabelValues(code).Inc()
	c.fetchDuration.Observe(d.Seconds())
}

// WriteTextfile writes the registry to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
