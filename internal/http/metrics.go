package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "scribe.http"

// HTTPMetrics records OTel metrics for the ops endpoints.
type HTTPMetrics struct {
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
}

// NewHTTPMetrics creates instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

// newHTTPMetrics leaves an instrument nil when it cannot be created; the
// middleware skips nil instruments.
func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &HTTPMetrics{}
	var err error
	m.requestsTotal, err = meter.Int64Counter("scribe.http.requests_total",
		metric.WithDescription("HTTP requests by method, endpoint and status code."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.requestDur, err = meter.Float64Histogram("scribe.http.request_duration_seconds",
		metric.WithDescription("HTTP request duration by method, endpoint and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	warn("request_duration_seconds", err)

	m.responseSize, err = meter.Int64Histogram("scribe.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, endpoint and status code."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000))
	warn("response_size_bytes", err)

	m.activeRequests, err = meter.Int64UpDownCounter("scribe.http.active_requests",
		metric.WithDescription("HTTP requests in flight."),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	return m
}

// MetricsMiddleware records count, latency and size of every request.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)

			opt := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, opt)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), opt)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, opt)
			}
			return err
		}
	}
}

// normalizePath maps an unmatched route to "/". Routes are fixed, so the
// matched path is already low-cardinality.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
