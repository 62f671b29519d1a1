package logger

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinMiddleware writes one access log line per request, at warn for 4xx and
// error for 5xx. It also puts a method and path scoped logger into the
// request context so services reached from handlers log through L(ctx).
// Run after middleware.RequestID.
func GinMiddleware(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request
		scoped := base.With(zap.String("method", req.Method), zap.String("path", req.URL.Path))

		ctx := WithContext(req.Context(), scoped)
		requestID := c.GetString("request_id")
		if requestID != "" {
			ctx = context.WithValue(ctx, RequestIDKey, requestID)
		}
		c.Request = req.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}
		if q := req.URL.RawQuery; q != "" {
			fields = append(fields, zap.String("query", q))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		log := scoped.Info
		if status >= http.StatusInternalServerError {
			log = scoped.Error
		} else if status >= http.StatusBadRequest {
			log = scoped.Warn
		}
		log("HTTP Request", fields...)
	}
}

// Recovery turns a handler panic into a logged 500 in the API envelope
func Recovery(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			base.Error("Panic recovered",
				zap.String("request_id", c.GetString("request_id")),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("error", rec),
				zap.Stack("stacktrace"),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   gin.H{"code": "ERR_INTERNAL", "message": "Internal server error"},
			})
		}()
		c.Next()
	}
}
