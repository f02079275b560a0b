package middleware

import (
	"strconv"
	"time"

	"takeout/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLog 记录访问日志并上报请求计数与耗时。m 可以为 nil。
func RequestLog(logger *logrus.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		if m != nil {
			m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
			m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Microseconds()) / 1000)
		}

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"route":      route,
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if uid := UserID(c); uid > 0 {
			entry = entry.WithField("user_id", uid)
		}
		switch {
		case status >= 500:
			entry.Error("HTTP request failed")
		case status >= 400:
			entry.Warn("HTTP request rejected")
		default:
			entry.Info("HTTP request")
		}
	}
}
