package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	messagesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_messages_ingested_total",
			Help: "Total number of messages processed by the ingestion classifier.",
		},
		[]string{"mode", "result"},
	)
	mediaStoredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_media_stored_total",
			Help: "Total number of new media blobs written to disk.",
		},
	)
	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_notifications_sent_total",
			Help: "Total number of notifications forwarded to a sink.",
		},
		[]string{"sink"},
	)
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_sweep_runs_total",
			Help: "Total number of retention sweeps.",
		},
		[]string{"result"},
	)
	sweepDeletedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_sweep_deleted_messages_total",
			Help: "Messages removed by retention sweeps.",
		},
	)
	sweepDeletedMedia = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_sweep_deleted_media_total",
			Help: "Orphaned media rows removed by retention sweeps.",
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "archive_sweep_duration_seconds",
			Help:    "Retention sweep latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_http_requests_total",
			Help: "Total number of HTTP requests processed by the API.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		messagesIngestedTotal,
		mediaStoredTotal,
		notificationsSentTotal,
		sweepRunsTotal,
		sweepDeletedMessages,
		sweepDeletedMedia,
		sweepDuration,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

func IncIngested(mode, result string) {
	messagesIngestedTotal.WithLabelValues(mode, result).Inc()
}

func IncMediaStored() {
	mediaStoredTotal.Inc()
}

func IncNotificationSent(sink string) {
	notificationsSentTotal.WithLabelValues(sink).Inc()
}

func ObserveSweep(d time.Duration, deletedMessages, deletedMedia int64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sweepRunsTotal.WithLabelValues(result).Inc()
	sweepDuration.Observe(d.Seconds())
	sweepDeletedMessages.Add(float64(deletedMessages))
	sweepDeletedMedia.Add(float64(deletedMedia))
}

// HTTPMiddleware records request counts and latencies per gin route.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
