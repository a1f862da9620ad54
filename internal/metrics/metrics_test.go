package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(alertsTotal.WithLabelValues("inverter", "created"))
	RecordAlert("inverter", "created")
	assert.Equal(t, before+1, testutil.ToFloat64(alertsTotal.WithLabelValues("inverter", "created")))

	RecordIngest("vendor_a", 3, 0)
	RecordIngest("vendor_a", 2, 1)
	assert.GreaterOrEqual(t, testutil.ToFloat64(samplesIngested.WithLabelValues("vendor_a")), 5.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(recordsDropped.WithLabelValues("vendor_a")), 1.0)

	SetUnacknowledged(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(unacknowledgedAlerts))
}

func TestHandlerExposesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMiddleware())
	r.GET("/metrics", Handler())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "solar_http_requests_total")
}
