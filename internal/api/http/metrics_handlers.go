package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MetricsJSON returns the counters as JSON for the debug overlay.
// Prometheus scrapes /metrics; this endpoint serves humans.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.GetSnapshot())
}

// StreamStatus reports connected view clients and recently broadcast
// events.
func (h *Handlers) StreamStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.stream.Status())
}
