package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{402, "4xx"},
		{409, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "statusBucket(%d)", tt.code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	ObserveDealOp("purchase", "ok", time.Now())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, name := range []string{
		"dealdesk_active_websocket_clients",
		"dealdesk_deal_operations_total",
		"dealdesk_deal_operation_duration_seconds",
	} {
		assert.True(t, strings.Contains(body, name), "expected %s in metrics output", name)
	}
}

func TestObserveDealOp_CountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(DealOperationsTotal.WithLabelValues("confirm_receipt", "invalid_state"))
	ObserveDealOp("confirm_receipt", "invalid_state", time.Now())
	after := testutil.ToFloat64(DealOperationsTotal.WithLabelValues("confirm_receipt", "invalid_state"))

	assert.Equal(t, before+1, after)
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
}

func TestObserveDealOp_ObservesHistogram(t *testing.T) {
	DealOperationDuration.Reset()

	ObserveDealOp("resolve", "ok", time.Now().Add(-50*time.Millisecond))

	observer, err := DealOperationDuration.GetMetricWithLabelValues("resolve")
	require.NoError(t, err)

	m := &dto.Metric{}
	require.NoError(t, observer.(prometheus.Metric).Write(m))
	require.NotNil(t, m.Histogram)
	assert.Equal(t, uint64(1), m.Histogram.GetSampleCount())
	assert.GreaterOrEqual(t, m.Histogram.GetSampleSum(), 0.05)
}
