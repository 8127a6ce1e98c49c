// Package telemetry exposes Prometheus metrics and OpenTelemetry tracing for
// the clinic workflow.
//
// Metrics live on an explicit registry so tests and embedded servers do not
// collide on the global one. All Metrics methods are safe on a nil receiver.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
)

const namespace = "clinicflow"

// InstrumentationName identifies spans created by this service.
const InstrumentationName = "github.com/clinicflow/clinicflow"

var defaultDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics holds the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	NotificationsTotal *prometheus.CounterVec
	HTTPRequestsTotal  *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
}

// New registers all collectors on a fresh registry, including the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow transitions by action and outcome",
		}, []string{"action", "outcome"}),
		TransitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Duration of workflow transitions including the store transaction",
			Buckets:   defaultDurationBuckets,
		}, []string{"action"}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by outcome (sent, failed, dropped)",
		}, []string{"outcome"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   defaultDurationBuckets,
		}, []string{"method", "route"}),
		ActiveRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_active_requests",
			Help:      "In-flight HTTP requests",
		}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Outcome classifies err for the outcome label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// ObserveTransition records one workflow transition that began at start.
func (m *Metrics) ObserveTransition(action string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(action, Outcome(err)).Inc()
	m.TransitionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

// NotificationResult counts a delivery outcome.
func (m *Metrics) NotificationResult(outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency per route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = apperr.ToHTTP(err).Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
