package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics records request counts, latencies and status categories
type HTTPMetrics struct {
	ServiceName string

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	statusCategory *prometheus.CounterVec
	inFlight       prometheus.Gauge
}

// Probe and scrape routes are not recorded.
var unobserved = map[string]bool{"/metrics": true, "/health": true}

// NewHTTPMetrics registers the HTTP collectors on reg
func NewHTTPMetrics(serviceName string, reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		ServiceName: serviceName,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method", "path", "status"},
		),
		statusCategory: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_status_category_total",
				Help: "Total number of responses by status category (2xx, 4xx, 5xx)",
			},
			[]string{"service", "category", "method", "path"},
		),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Requests currently being served",
			ConstLabels: prometheus.Labels{"service": serviceName},
		}),
	}
}

func statusCategory(status int) string {
	if status < 100 || status > 599 {
		return ""
	}
	return strconv.Itoa(status/100) + "xx"
}

// Middleware records HTTP request metrics labelled by route template. Handler
// errors are rendered here so the recorded status is the one the client sees.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if unobserved[c.Path()] {
				return next(c)
			}

			m.inFlight.Inc()
			defer m.inFlight.Dec()
			start := time.Now()

			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			method := c.Request().Method
			path := c.Path()
			statusStr := strconv.Itoa(status)

			m.requests.WithLabelValues(m.ServiceName, method, path, statusStr).Inc()
			if category := statusCategory(status); category != "" {
				m.statusCategory.WithLabelValues(m.ServiceName, category, method, path).Inc()
			}
			m.duration.WithLabelValues(m.ServiceName, method, path, statusStr).Observe(time.Since(start).Seconds())

			return nil
		}
	}
}

// Handler exposes the collectors gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
