package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/liverelay/pkg/Logger"
)

// RequestLoggerMiddleware logs incoming requests
func RequestLoggerMiddleware(logger *Logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logger.Infof("%s %s %d %s %s",
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
			param.ClientIP,
		)
		return ""
	})
}

// ErrorHandlerMiddleware handles panics and errors
func ErrorHandlerMiddleware(logger *Logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Errorf("Panic recovered: %v", recovered)
		// a hijacked socket has no HTTP response to write
		if c.Writer.Written() {
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	})
}

// IsUpgradeRequest reports whether the request asks for a WebSocket upgrade.
func IsUpgradeRequest(c *gin.Context) bool {
	return c.IsWebsocket()
}

// DrainingUpgradeGuard rejects WebSocket upgrades on any path while the
// process is shutting down. reject writes the raw response.
func DrainingUpgradeGuard(draining func() bool, reject func(http.ResponseWriter, int)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsUpgradeRequest(c) && draining() {
			reject(c.Writer, http.StatusServiceUnavailable)
			c.Abort()
			return
		}
		c.Next()
	}
}
