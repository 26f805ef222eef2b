package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	faxSubmittedTotal    prometheus.Counter
	faxCompletedTotal    *prometheus.CounterVec
	faxFailedTotal       *prometheus.CounterVec
	creationInFlight     prometheus.Gauge
	monitorsActive       prometheus.Gauge
	pollDuration         prometheus.Histogram
	phaseDurationSeconds *prometheus.HistogramVec
	batchDurationSeconds prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fax_blast",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fax_blast",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		faxSubmittedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fax_blast",
				Name:      "fax_submitted_total",
				Help:      "Total number of fax jobs successfully created at the backend.",
			},
		),
		faxCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fax_blast",
				Name:      "fax_completed_total",
				Help:      "Total number of submissions that reached a terminal status.",
			},
			[]string{"status"},
		),
		faxFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fax_blast",
				Name:      "fax_failed_total",
				Help:      "Total number of units that failed, grouped by failure reason.",
			},
			[]string{"reason"},
		),
		creationInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fax_blast",
				Name:      "creation_in_flight",
				Help:      "Current number of in-flight job-creation calls.",
			},
		),
		monitorsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fax_blast",
				Name:      "monitors_active",
				Help:      "Current number of running submission monitors.",
			},
		),
		pollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fax_blast",
				Name:      "monitor_poll_duration_seconds",
				Help:      "Duration of a single monitor poll iteration against the backend.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		phaseDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fax_blast",
				Name:      "phase_duration_seconds",
				Help:      "Recorded conversion/transmission/total durations for sent faxes.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"phase"},
		),
		batchDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fax_blast",
				Name:      "batch_duration_seconds",
				Help:      "Wall-clock duration of completed batch dispatches.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 16),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.faxSubmittedTotal,
		m.faxCompletedTotal,
		m.faxFailedTotal,
		m.creationInFlight,
		m.monitorsActive,
		m.pollDuration,
		m.phaseDurationSeconds,
		m.batchDurationSeconds,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncFaxSubmitted() {
	if m == nil {
		return
	}
	m.faxSubmittedTotal.Inc()
}

func (m *Metrics) IncFaxCompleted(status string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(status))
	if normalized == "" {
		normalized = "unknown"
	}
	m.faxCompletedTotal.WithLabelValues(normalized).Inc()
}

func (m *Metrics) IncFaxFailed(reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.faxFailedTotal.WithLabelValues(reasonLabel).Inc()
}

func (m *Metrics) IncCreationInFlight() {
	if m == nil {
		return
	}
	m.creationInFlight.Inc()
}

func (m *Metrics) DecCreationInFlight() {
	if m == nil {
		return
	}
	m.creationInFlight.Dec()
}

func (m *Metrics) IncMonitorsActive() {
	if m == nil {
		return
	}
	m.monitorsActive.Inc()
}

func (m *Metrics) DecMonitorsActive() {
	if m == nil {
		return
	}
	m.monitorsActive.Dec()
}

func (m *Metrics) ObservePollDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.pollDuration.Observe(seconds)
}

func (m *Metrics) ObservePhaseDurations(conversionMs, transmissionMs, totalMs int64) {
	if m == nil {
		return
	}
	m.phaseDurationSeconds.WithLabelValues("conversion").Observe(float64(conversionMs) / 1000)
	m.phaseDurationSeconds.WithLabelValues("transmission").Observe(float64(transmissionMs) / 1000)
	m.phaseDurationSeconds.WithLabelValues("total").Observe(float64(totalMs) / 1000)
}

func (m *Metrics) ObserveBatchDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.batchDurationSeconds.Observe(seconds)
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}
