// This middleware routes gin's per-request access log through the zerolog
// extension created in logger.go.

package log

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// Adapted from the pattern on https://learninggolang.com/it5-gin-structured-logging.html.
// Forces gin to emit its access line via zerolog instead of the default writer,
// with the log level picked from the response status.
func LoggerGinExtension(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		// Process request
		c.Next()

		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		}
		status := c.Writer.Status()

		message := fmt.Sprintf("%s | %s | %s | %d | %s | %s",
			c.ClientIP(),
			c.Request.Method,
			path,
			status,
			latency.String(),
			c.Errors.ByType(gin.ErrorTypePrivate).String())

		switch {
		case status >= 500:
			logger.Error().Msg(message)
		case status >= 400:
			logger.Warn().Msg(message)
		default:
			logger.Info().Msg(message)
		}
	}
}
