package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-Id"

// RequestLogger 为每个请求分配 request id 并记录访问日志。
func RequestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)

		c.Next()

		fields := logrus.Fields{
			"request_id": reqID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		if u, ok := CurrentUser(c); ok {
			fields["user_id"] = u.ID
		}
		entry := log.WithFields(fields)
		switch s := c.Writer.Status(); {
		case s >= 500:
			entry.Error("request failed")
		case s >= 400:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
