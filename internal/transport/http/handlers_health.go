package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rotif/internal/config"
	"rotif/pkg/rotif"
)

type healthHandler struct {
	config    *config.Config
	broker    *rotif.Broker
	startTime time.Time
}

func newHealthHandler(cfg *config.Config, broker *rotif.Broker) *healthHandler {
	return &healthHandler{config: cfg, broker: broker, startTime: time.Now()}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Check handles GET /health.
func (h *healthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: h.config.App.Version,
		Uptime:  time.Since(h.startTime).String(),
	})
}

// Ready handles GET /health/ready: the broker is ready once DLQ stats can be
// read, which round-trips through Redis.
func (h *healthHandler) Ready(c *gin.Context) {
	checks := map[string]string{}
	status := "healthy"
	code := http.StatusOK

	if _, err := h.broker.DLQ().GetStats(c.Request.Context()); err != nil {
		checks["redis"] = "unhealthy: " + err.Error()
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else {
		checks["redis"] = "healthy"
	}

	c.JSON(code, healthResponse{
		Status:  status,
		Version: h.config.App.Version,
		Uptime:  time.Since(h.startTime).String(),
		Checks:  checks,
	})
}

// Live handles GET /health/live.
func (h *healthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status: "alive",
		Uptime: time.Since(h.startTime).String(),
	})
}
