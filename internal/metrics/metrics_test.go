package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
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
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "code %d", tt.code)
	}
}

func scrape(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	// Plain gauges export even at zero; labeled collectors only appear
	// once a label combination has been observed.
	body := scrape(t, r)
	assert.True(t, strings.Contains(body, "riskflow_goroutines"))
	assert.True(t, strings.Contains(body, "riskflow_db_open_connections"))
	assert.True(t, strings.Contains(body, "riskflow_velocity_tracked_customers"))

	EventsProcessedTotal.WithLabelValues("completed").Inc()
	body = scrape(t, r)
	assert.True(t, strings.Contains(body, "riskflow_events_processed_total"))
}

func TestMiddlewareServesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/probe", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/probe", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	r.GET("/metrics", Handler())
	body := scrape(t, r)
	assert.True(t, strings.Contains(body, "riskflow_http_requests_total"))
}
