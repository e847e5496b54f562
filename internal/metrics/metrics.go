// Package metrics provides Prometheus instrumentation for the riskflow
// pipeline.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskflow",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventsIngestedTotal counts transaction events accepted into the pipeline.
	EventsIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskflow",
		Name:      "events_ingested_total",
		Help:      "Total transaction events accepted for processing.",
	})

	// EventsProcessedTotal counts events leaving the pipeline by terminal state.
	EventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskflow",
			Name:      "events_processed_total",
			Help:      "Total events by terminal state (completed, failed).",
		},
		[]string{"state"},
	)

	// StageDuration observes per-stage processing latency.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskflow",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)

	// PartitionQueueDepth tracks queued events per pipeline partition.
	PartitionQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "riskflow",
			Name:      "partition_queue_depth",
			Help:      "Events currently queued per pipeline partition.",
		},
		[]string{"partition"},
	)

	// ScoreComputationsTotal counts score computations by source.
	ScoreComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskflow",
			Name:      "score_computations_total",
			Help:      "Total score computations by source (scorer, fallback).",
		},
		[]string{"source"},
	)

	// ScorerDuration observes external scorer call latency.
	ScorerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskflow",
		Name:      "scorer_duration_seconds",
		Help:      "External scorer request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	})

	// ScoreCacheTotal counts cache lookups by result.
	ScoreCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskflow",
			Name:      "score_cache_total",
			Help:      "Score cache lookups by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	// BatchScoreSize observes batch scoring request sizes.
	BatchScoreSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskflow",
		Name:      "batch_score_size",
		Help:      "Number of items per batch scoring request.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100},
	})

	// AlertsTotal counts raised alerts by rule and severity.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskflow",
			Name:      "alerts_total",
			Help:      "Total alerts raised by rule id and severity.",
		},
		[]string{"rule_id", "severity"},
	)

	// DeadLettersTotal counts events routed to the dead-letter topic.
	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskflow",
			Name:      "dead_letters_total",
			Help:      "Total dead-lettered events by error type.",
		},
		[]string{"error_type"},
	)

	// PublishesTotal counts event publishes by topic and result.
	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskflow",
			Name:      "publishes_total",
			Help:      "Total event publishes by topic and result.",
		},
		[]string{"topic", "result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskflow", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskflow", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskflow", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskflow", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskflow", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// VelocityKeyCount tracks customers with live velocity state.
	VelocityKeyCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskflow", Name: "velocity_tracked_customers",
		Help: "Number of customers with velocity state in memory.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskflow", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsIngestedTotal,
		EventsProcessedTotal,
		StageDuration,
		PartitionQueueDepth,
		ScoreComputationsTotal,
		ScorerDuration,
		ScoreCacheTotal,
		BatchScoreSize,
		AlertsTotal,
		DeadLettersTotal,
		PublishesTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		VelocityKeyCount,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
