// Package metrics holds the Prometheus collectors for inboxd and the gin
// middleware that feeds the HTTP ones.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "inboxd",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inboxd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "inboxd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	// SyncbackProcessed counts replayed actions by type and outcome.
	SyncbackProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "inboxd",
			Subsystem: "syncback",
			Name:      "actions_total",
			Help:      "Total number of syncback actions processed.",
		},
		[]string{"type", "outcome"},
	)

	// SyncbackRetries counts transient failures sent back to the queue.
	SyncbackRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inboxd",
			Subsystem: "syncback",
			Name:      "retries_total",
			Help:      "Total number of syncback retries.",
		},
	)

	// SyncbackRequeuedStuck counts in-flight actions recovered by the
	// requeue schedule.
	SyncbackRequeuedStuck = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "inboxd",
			Subsystem: "syncback",
			Name:      "requeued_stuck_total",
			Help:      "Total number of stuck actions returned to pending.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		SyncbackProcessed,
		SyncbackRetries,
		SyncbackRequeuedStuck,
	)
}

// Handler returns the middleware recording base HTTP metrics.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInFlight.Inc()
		c.Next()
		httpInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Exposer returns the Prometheus scrape handler for the app registry.
func Exposer() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}
