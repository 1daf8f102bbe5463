package web

import (
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/metrics"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID carries the per-request identifier.
	HeaderRequestID = "X-Request-ID"

	requestIDKey       = "request_id"
	sentryFlushTimeout = 2 * time.Second
)

// RequestTracking tags every request with an ID, logs its completion and
// records its latency.
func RequestTracking(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Set(requestIDKey, requestID)
		c.Header(HeaderRequestID, requestID)

		start := time.Now()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.ObserveHTTPRequest(c.Request.Method, route, statusCode, duration)

		switch {
		case statusCode >= http.StatusInternalServerError:
			log.Error("%s %s -> %d in %s (request_id=%s)",
				c.Request.Method, c.Request.URL.Path, statusCode, duration, requestID)
		case statusCode >= http.StatusBadRequest:
			log.Warn("%s %s -> %d in %s (request_id=%s)",
				c.Request.Method, c.Request.URL.Path, statusCode, duration, requestID)
		default:
			log.Info("%s %s -> %d in %s (request_id=%s)",
				c.Request.Method, c.Request.URL.Path, statusCode, duration, requestID)
		}
	}
}

// SentryMiddleware attaches a Sentry hub to every request.
func SentryMiddleware() gin.HandlerFunc {
	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         sentryFlushTimeout,
	})
}

// captureError reports err to Sentry when a hub is attached to the request.
func captureError(c *gin.Context, err error) {
	hub := sentrygin.GetHubFromContext(c)
	if hub == nil {
		return
	}

	hub.Scope().SetTag(requestIDKey, c.GetString(requestIDKey))
	hub.CaptureException(err)
}
