package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/clinicflow/internal/platform/apperr"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "not_found", Outcome(apperr.NotFound("patient", "1")))
	assert.Equal(t, "invalid_transition", Outcome(apperr.InvalidTransition("test", "1", "start", "completed", "")))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestObserveTransition(t *testing.T) {
	m := New()
	m.ObserveTransition("test.start", time.Now(), nil)
	m.ObserveTransition("test.start", time.Now(), apperr.InvalidTransition("test", "1", "start", "in_progress", ""))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("test.start", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("test.start", "invalid_transition")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("x", time.Now(), nil)
	m.NotificationResult("sent")
}

func TestNotificationResult(t *testing.T) {
	m := New()
	m.NotificationResult("sent")
	m.NotificationResult("sent")
	m.NotificationResult("dropped")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("dropped")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/patients/:id", func(c echo.Context) error {
		return apperr.ToHTTP(apperr.NotFound("patient", c.Param("id")))
	})
	e.GET("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/patients/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/patients/:id", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRequests))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "clinicflow_http_requests_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
