package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so wiring stays optional in tests.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	importRows   *prometheus.CounterVec
	importTasks  *prometheus.CounterVec
	importTime   prometheus.Histogram
}

func New(namespace string) *Metrics {
	return &Metrics{
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		importRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Import rows by outcome.",
		}, []string{"outcome"}),
		importTasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_tasks_total",
			Help:      "Finished import tasks by terminal status.",
		}, []string{"status"}),
		importTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_task_duration_seconds",
			Help:      "Wall-clock duration of completed import tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
	}
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// ObserveBatch records one committed batch.
func (m *Metrics) ObserveBatch(committed, invalid int) {
	if m == nil {
		return
	}
	if committed > 0 {
		m.importRows.WithLabelValues("committed").Add(float64(committed))
	}
	if invalid > 0 {
		m.importRows.WithLabelValues("invalid").Add(float64(invalid))
	}
}

// TaskFinished records a terminal task transition.
func (m *Metrics) TaskFinished(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.importTasks.WithLabelValues(status).Inc()
	if duration > 0 {
		m.importTime.Observe(duration.Seconds())
	}
}

// Handler exposes the default registry for the /metrics route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
