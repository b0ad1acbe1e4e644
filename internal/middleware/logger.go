package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

// Logger logs every request and records the HTTP metrics. Bodies are never
// logged; they carry clinical data.
func Logger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m != nil {
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
			m.HTTPLatency.WithLabelValues(method, route).Observe(latency.Seconds())
		}

		if raw != "" {
			path = path + "?" + raw
		}

		logger := log.With().
			Str("request_id", c.GetString(ContextRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("method", method).
			Str("path", path).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("user_agent", c.Request.UserAgent())
		if uid := c.GetString(ContextUserID); uid != "" {
			logger = logger.Str("user_id", uid)
		}
		logEvent := logger.Logger()

		// Log based on status code
		switch {
		case statusCode >= 500:
			logEvent.Error().Msg("Server error")
		case statusCode >= 400:
			logEvent.Warn().Msg("Client error")
		default:
			logEvent.Info().Msg("Request processed")
		}
	}
}
