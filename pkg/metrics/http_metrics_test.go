package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adk-sentryskin/shopify-sync/pkg/metrics"
)

func TestMiddlewareRecordsRenderedStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTPMetrics("catalog-sync", reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/products/:id", func(c echo.Context) error { return echo.ErrNotFound })
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))

	for _, path := range []string{"/api/products/1", "/api/products/2", "/health"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP http_requests_total Total number of HTTP requests
# TYPE http_requests_total counter
http_requests_total{method="GET",path="/api/products/:id",service="catalog-sync",status="404"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "http_requests_total"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_status_category_total{category="4xx"`)
	assert.NotContains(t, rec.Body.String(), `path="/health"`)
}
