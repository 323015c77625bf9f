// Package middleware holds the gateway's request-pipeline filters:
// request logging, user-agent filtering, reverse-proxy rejection, CORS
// preflight handling, and client identity extraction.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the HTTP header used to propagate the request ID.
	RequestIDHeader = "X-Request-Id"
	// ContextKeyRequestID is the gin context key for the request ID.
	ContextKeyRequestID = "request_id"
)

// RequestLog tags every request with an ID, sets it on the response,
// and logs one line with timing once the request finishes. gateway
// names the listener ("frontend" or "backend") so dual-mode logs stay
// readable.
func RequestLog(gateway string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Reuse incoming request ID if provided (e.g. from a load balancer).
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(ContextKeyRequestID, id)
		c.Writer.Header().Set(RequestIDHeader, id)

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		slog.Info("request",
			"gateway", gateway,
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
			"ip", c.ClientIP(),
			"ua", c.Request.UserAgent(),
		)
	}
}
