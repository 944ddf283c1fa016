package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/OstapBender-commits/ema-signal-bot/internal/logging"
)

// quietPaths are polled by uptime checkers and are not logged.
var quietPaths = map[string]bool{
	"/":        true,
	"/health":  true,
	"/metrics": true,
}

// RequestTelemetry annotates the request span started by otelgin with the
// response time and logs the request. It must be registered after
// otelgin.Middleware.
func RequestTelemetry(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		statusCode := c.Writer.Status()
		elapsed := time.Since(start)

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			span.SetAttributes(
				attribute.Int64("http.response.time_ms", elapsed.Milliseconds()),
				attribute.String("health.status", statusClass(statusCode)),
			)
			if len(c.Errors) > 0 {
				span.RecordError(c.Errors.Last().Err)
			}
		}

		if logger != nil && !quietPaths[c.Request.URL.Path] {
			logger.LogAPIRequest(c.Request.Method, c.Request.URL.Path, statusCode, elapsed.Milliseconds())
		}
	}
}

// RecordError marks the current request span as failed.
func RecordError(c *gin.Context, err error, description string) {
	span := trace.SpanFromContext(c.Request.Context())
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, description)
	}
	_ = c.Error(err)
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "ok"
	case code >= 400 && code < 500:
		return "client_error"
	case code >= 500:
		return "server_error"
	default:
		return fmt.Sprintf("http_%d", code)
	}
}
