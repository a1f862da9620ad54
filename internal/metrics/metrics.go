// Package metrics exposes pipeline counters in Prometheus format.
//
// Available metrics:
//   - solar_http_requests_total{method, endpoint, status_code}
//   - solar_http_request_duration_seconds{method, endpoint}
//   - solar_samples_ingested_total{vendor}
//   - solar_records_dropped_total{vendor}
//   - solar_findings_total{type, severity}
//   - solar_alerts_total{type, result}  result: created, suppressed, failed
//   - solar_alert_transitions_total{transition}
//   - solar_unacknowledged_alerts
//   - solar_aggregation_runs_total{job, result}
//   - solar_notifications_total{sink, result}
//   - solar_notifications_dropped_total
//   - solar_websocket_clients
//   - solar_archive_writes_total{result}
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solar_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	samplesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_samples_ingested_total",
			Help: "Device samples accepted after normalization",
		},
		[]string{"vendor"},
	)

	recordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_records_dropped_total",
			Help: "Raw telemetry records dropped during normalization",
		},
		[]string{"vendor"},
	)

	findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_findings_total",
			Help: "Fault findings produced by the detector",
		},
		[]string{"type", "severity"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_alerts_total",
			Help: "Alert creation outcomes",
		},
		[]string{"type", "result"},
	)

	alertTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_alert_transitions_total",
			Help: "Alert lifecycle transitions",
		},
		[]string{"transition"},
	)

	unacknowledgedAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solar_unacknowledged_alerts",
			Help: "Unresolved alerts not yet acknowledged",
		},
	)

	aggregationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_aggregation_runs_total",
			Help: "Daily production aggregation runs",
		},
		[]string{"job", "result"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_notifications_total",
			Help: "Notification sink deliveries",
		},
		[]string{"sink", "result"},
	)

	notificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "solar_notifications_dropped_total",
			Help: "Notification events dropped because the queue was full",
		},
	)

	websocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "solar_websocket_clients",
			Help: "Connected alert stream clients",
		},
	)

	archiveWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solar_archive_writes_total",
			Help: "Telemetry archive batch writes",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		samplesIngested,
		recordsDropped,
		findingsTotal,
		alertsTotal,
		alertTransitions,
		unacknowledgedAlerts,
		aggregationRuns,
		notificationsTotal,
		notificationsDropped,
		websocketClients,
		archiveWrites,
	)
}

// Handler serves the default registry
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// HTTPMiddleware records request counts and latency by route template
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func RecordIngest(vendor string, accepted, dropped int) {
	samplesIngested.WithLabelValues(vendor).Add(float64(accepted))
	if dropped > 0 {
		recordsDropped.WithLabelValues(vendor).Add(float64(dropped))
	}
}

func RecordFinding(alertType, severity string) {
	findingsTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordAlert counts one creation outcome: created, suppressed or failed
func RecordAlert(alertType, result string) {
	alertsTotal.WithLabelValues(alertType, result).Inc()
}

func RecordTransition(transition string) {
	alertTransitions.WithLabelValues(transition).Inc()
}

func SetUnacknowledged(n int) {
	unacknowledgedAlerts.Set(float64(n))
}

func RecordAggregation(job, result string) {
	aggregationRuns.WithLabelValues(job, result).Inc()
}

func RecordNotification(sink string, ok bool) {
	result := ResultSuccess
	if !ok {
		result = ResultError
	}
	notificationsTotal.WithLabelValues(sink, result).Inc()
}

func RecordNotificationDropped() {
	notificationsDropped.Inc()
}

func SetWebSocketClients(n int) {
	websocketClients.Set(float64(n))
}

func RecordArchiveWrite(ok bool) {
	if ok {
		archiveWrites.WithLabelValues(ResultSuccess).Inc()
		return
	}
	archiveWrites.WithLabelValues(ResultError).Inc()
}
