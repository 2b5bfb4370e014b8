// Package middleware holds the gin middleware shared by every route on the
// proxy's catch-all surface.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader propagates the request ID to the client and, via the
	// rewritten header set, to the upstream.
	RequestIDHeader = "X-Request-Id"
	// ContextKeyRequestID is the gin context key the ID is stored under.
	ContextKeyRequestID = "request_id"
)

// RequestID tags every exchange with a request ID (honouring one already
// assigned by an upstream load balancer) and logs the exchange on the way
// out. The host is logged alongside method and path because host, not route,
// is what decides inbound-vs-outbound handling on unmatched paths.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}

		c.Set(ContextKeyRequestID, id)
		c.Request.Header.Set(RequestIDHeader, id)
		c.Writer.Header().Set(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		slog.Info("request",
			"request_id", id,
			"method", c.Request.Method,
			"host", c.Request.Host,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
