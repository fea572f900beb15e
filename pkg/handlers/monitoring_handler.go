package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"hermes-chat-api/pkg/services"
)

// MonitoringHandler exposes the in-memory request log.
type MonitoringHandler struct {
	monitor *services.MonitoringService
}

// NewMonitoringHandler creates the monitoring handler.
func NewMonitoringHandler(monitor *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{monitor: monitor}
}

// GetLogs returns recent requests plus per-endpoint aggregates.
// period: "1h", "24h" or "7d" (default 24h).
func (h *MonitoringHandler) GetLogs(c *gin.Context) {
	period := 24 * time.Hour
	switch c.DefaultQuery("period", "24h") {
	case "1h":
		period = time.Hour
	case "24h":
		period = 24 * time.Hour
	case "7d":
		period = 7 * 24 * time.Hour
	}

	logs := h.monitor.Logs(period)
	c.JSON(http.StatusOK, gin.H{
		"count": len(logs),
		"logs":  logs,
		"stats": h.monitor.Stats(),
	})
}
