package httpserver

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
)

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("http request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
		)
	}
}

func requestRecoveryWithLog(logger *slog.Logger) gin.RecoveryFunc {
	return func(c *gin.Context, err any) {
		var body []byte
		if c.Request.Body != nil {
			b, _ := io.ReadAll(c.Request.Body)
			body = b
			c.Request.Body = io.NopCloser(bytes.NewBuffer(b))
		}

		logger.Error("panic serving request",
			"panic", err,
			"method", c.Request.Method,
			"url", c.Request.URL.String(),
			"body", string(body),
			"stack", string(debug.Stack()),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, response{Ok: false, Error: "internal error"})
	}
}
