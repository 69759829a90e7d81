// Package metrics exposes Prometheus metrics for the console's caching,
// request pacing and history subsystems.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lakefront/s3console/pkg/cache"
	"github.com/lakefront/s3console/pkg/history"
	"github.com/lakefront/s3console/pkg/requestqueue"
)

const namespace = "s3console"

// Collector holds the console's Prometheus metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	cacheEntries  *prometheus.GaugeVec
	cacheHitRate  prometheus.Gauge
	queuePending  prometheus.Gauge
	queueDelay    prometheus.Gauge
	dispatched    prometheus.Counter
	rateLimited   prometheus.Counter
	historyTotal  prometheus.Gauge
	historyErrors prometheus.Gauge
	syncPending   prometheus.Gauge
}

// NewCollector creates and registers the console metrics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Cache entries by state (valid, expired).",
		}, []string{"state"}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hit_rate",
			Help:      "Ratio of cache hits over lookups.",
		}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Requests waiting in the priority queue.",
		}),
		queueDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rate_delay_seconds",
			Help:      "Current shared rate-limit backoff delay.",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dispatched_total",
			Help:      "Requests dispatched to the remote store.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "rate_limited_total",
			Help:      "Requests re-queued after a rate limit response.",
		}),
		historyTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "entries",
			Help:      "History entries in the active user partition.",
		}),
		historyErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "error_entries",
			Help:      "History entries in error state.",
		}),
		syncPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "sync_pending",
			Help:      "History entries waiting for remote sync.",
		}),
	}

	registry.MustRegister(
		c.cacheEntries, c.cacheHitRate,
		c.queuePending, c.queueDelay, c.dispatched, c.rateLimited,
		c.historyTotal, c.historyErrors, c.syncPending,
	)
	return c
}

// ObserveCache publishes a cache stats snapshot.
func (c *Collector) ObserveCache(stats cache.Stats) {
	c.cacheEntries.WithLabelValues("valid").Set(float64(stats.Valid))
	c.cacheEntries.WithLabelValues("expired").Set(float64(stats.Expired))
	c.cacheHitRate.Set(stats.HitRate)
}

// ObserveQueue publishes a queue stats snapshot. Counters advance by the
// delta from the previous snapshot, so pass monotonically growing stats.
func (c *Collector) ObserveQueue(prev, cur requestqueue.Stats) {
	c.queuePending.Set(float64(cur.Pending))
	c.queueDelay.Set(cur.RateDelay.Seconds())
	if d := cur.Dispatched - prev.Dispatched; d > 0 {
		c.dispatched.Add(float64(d))
	}
	if d := cur.RateLimited - prev.RateLimited; d > 0 {
		c.rateLimited.Add(float64(d))
	}
}

// ObserveHistory publishes a history stats snapshot.
func (c *Collector) ObserveHistory(stats history.Stats) {
	c.historyTotal.Set(float64(stats.Total))
	c.historyErrors.Set(float64(stats.Errors))
	c.syncPending.Set(float64(stats.Pending))
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for tests and extra registrations.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
