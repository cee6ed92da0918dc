package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"quantumchat/logger"
)

const ContextLogger = "logger"

// RequestLogger tags each request with a requestId and logs it on
// completion.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := logger.NewRequestID()
		log := slog.With("requestId", id)
		c.Set(ContextLogger, log)
		c.Header("X-Request-ID", id)

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		}
		switch {
		case status >= 500:
			log.Error("request", attrs...)
		case status >= 400:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

// Logger returns the request-scoped logger, or the default one.
func Logger(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ContextLogger); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
