package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimbusos/shell/internal/monitoring"
)

// Metrics records request counts and latency per route. The route
// template (not the raw path) labels the series, keeping cardinality
// bounded; requests that match no route collapse into one label.
func Metrics(m *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RecordHTTPRequest(method, route, status, time.Since(start))
	}
}
