package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/govcon/shredder/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetricsConfig holds configuration for HTTP metrics middleware.
type HTTPMetricsConfig struct {
	Providers *telemetry.Providers
	Enabled   bool
}

type httpMetrics struct {
	requests  *telemetry.Counter
	latency   *telemetry.Histogram
	reqBytes  *telemetry.Histogram
	respBytes *telemetry.Histogram
	inFlight  metric.Int64UpDownCounter
}

// Request bodies carry whole solicitations and responses carry matrices, so
// both size histograms reach into the tens of megabytes.
var sizeBuckets = []float64{1_000, 10_000, 100_000, 500_000, 1_000_000, 5_000_000, 10_000_000, 20_000_000}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	var errs []error
	histogram := func(name, desc, unit string, bounds []float64) *telemetry.Histogram {
		h, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
			Name: name, Description: desc, Unit: unit, Boundaries: bounds,
		})
		errs = append(errs, err)
		return h
	}

	m := &httpMetrics{
		latency:   histogram("http_server_request_duration_seconds", "HTTP request latency in seconds", "s", telemetry.HTTPDurationBuckets),
		reqBytes:  histogram("http_server_request_size_bytes", "HTTP request body size in bytes", "By", sizeBuckets),
		respBytes: histogram("http_server_response_size_bytes", "HTTP response body size in bytes", "By", sizeBuckets),
	}
	var err error
	m.requests, err = telemetry.NewCounter(meter, "http_server_request_total", "HTTP requests served", "{request}")
	errs = append(errs, err)
	m.inFlight, err = meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("HTTP requests in flight"),
		metric.WithUnit("{request}"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *httpMetrics) record(ctx context.Context, c *gin.Context, elapsed time.Duration, reqBytes int64) {
	attrs := []attribute.KeyValue{
		telemetry.AttrHTTPMethod.String(c.Request.Method),
		telemetry.AttrHTTPRoute.String(routeLabel(c)),
	}

	m.requests.Inc(ctx, append(attrs, telemetry.AttrHTTPStatusCode.Int(c.Writer.Status()))...)
	m.latency.RecordDuration(ctx, elapsed, attrs...)
	if reqBytes > 0 {
		m.reqBytes.Record(ctx, float64(reqBytes), attrs...)
	}
	if n := c.Writer.Size(); n > 0 {
		m.respBytes.Record(ctx, float64(n), attrs...)
	}
}

// HTTPMetrics records request count, latency, body sizes and in-flight
// requests on the "http.server" meter. It is a no-op unless telemetry is on.
func HTTPMetrics(cfg HTTPMetricsConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.Providers == nil || !cfg.Providers.Enabled() {
		return passThrough
	}
	return HTTPMetricsWithMeter(cfg.Providers.Meter("http.server"), true)
}

// HTTPMetricsWithMeter is HTTPMetrics against an explicit meter.
func HTTPMetricsWithMeter(meter metric.Meter, enabled bool) gin.HandlerFunc {
	if !enabled {
		return passThrough
	}
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return passThrough
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		reqBytes := c.Request.ContentLength

		m.inFlight.Add(ctx, 1)
		defer m.inFlight.Add(ctx, -1)

		c.Next()
		m.record(ctx, c, time.Since(start), reqBytes)
	}
}

// routeLabel is the matched route template. Unmatched paths collapse to
// "unknown" so raw ids never reach metric labels.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}

func passThrough(c *gin.Context) {
	c.Next()
}

// HTTPMetricsStatusGroup groups a status code into its class.
func HTTPMetricsStatusGroup(statusCode int) string {
	if statusCode < 200 || statusCode > 599 {
		return "other"
	}
	return string(rune('0'+statusCode/100)) + "xx"
}
