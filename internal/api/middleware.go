package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/openinbox/inboxd/pkg/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	ctxNamespaceKey = "namespace_id"
	ctxRequestIDKey = "request_id"
)

// RequestID assigns every request an identifier, honoring one supplied by
// the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestIDKey, id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger emits one structured record per request.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path).
			WithField("status", c.Writer.Status()).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			WithField("request_id", c.GetString(ctxRequestIDKey)).
			Info("request handled")
	}
}

// RateLimit applies a process-wide token bucket to inbound requests.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

// NamespaceAuth resolves the bearer credential to the namespace the request
// operates on. Requests without a usable credential are rejected.
func NamespaceAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			c.Header("WWW-Authenticate", `Bearer realm="API Access Token Required"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "could not verify access credential",
			})
			return
		}
		c.Set(ctxNamespaceKey, parts[1])
		c.Next()
	}
}
