// Package middleware provides the HTTP middleware of the shredding API.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/infrastructure/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRequestIDLength caps request ids copied from headers into spans
const MaxRequestIDLength = 128

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "shredder",
		Enabled:     true,
	}
}

// Tracing returns OpenTelemetry tracing middleware with default configuration.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(DefaultTracingConfig())
}

// TracingWithConfig returns the otelgin server middleware. Span names follow
// "METHOD route", for example "GET /api/v1/opportunities/:id". otelgin ends
// the span when the chain returns, so attributes are added by
// TracingAttributeInjector further down the chain.
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(cfg.ServiceName)
}

// TracingAttributeInjector adds request_id and opportunity_id to the active
// span and returns its trace id in X-Trace-ID. Place it after Tracing and
// RequestID.
func TracingAttributeInjector() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if span := telemetry.SpanFromContext(ctx); span.IsRecording() {
			enrichSpanWithAttributes(c, span)
			c.Header("X-Trace-ID", telemetry.GetTraceID(ctx))
		}
		c.Next()
	}
}

func enrichSpanWithAttributes(c *gin.Context, span trace.Span) {
	if requestID := RequestIDFrom(c); requestID != "" {
		span.SetAttributes(attribute.String("request_id", requestID))
	}
	if oppID := getOpportunityID(c); oppID != "" {
		span.SetAttributes(attribute.String("opportunity_id", oppID))
	}
}

// getOpportunityID returns the :id route parameter when it is a UUID, so
// arbitrary path text never lands in trace attributes.
func getOpportunityID(c *gin.Context) string {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return ""
	}
	return id.String()
}

// SpanErrorMarker marks the active span as failed for 4xx and 5xx responses.
// Place it after Tracing.
func SpanErrorMarker() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		span := trace.SpanFromContext(c.Request.Context())
		if !span.IsRecording() {
			return
		}

		statusCode := c.Writer.Status()
		if statusCode < http.StatusBadRequest {
			return
		}

		var msg string
		switch {
		case statusCode >= http.StatusInternalServerError:
			msg = "Internal Server Error"
		case statusCode == http.StatusNotFound:
			msg = "Not Found"
		case statusCode == http.StatusConflict:
			msg = "Conflict"
		case statusCode == http.StatusTooManyRequests:
			msg = "Too Many Requests"
		default:
			msg = "Client Error"
		}
		span.SetStatus(codes.Error, msg)
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
	}
}
