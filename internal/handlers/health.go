package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/liverelay/internal/lifecycle"
)

// ConnectionCounter reports open relay sockets.
type ConnectionCounter interface {
	Count() int
}

type HealthHandler struct {
	lifecycle     *lifecycle.Lifecycle
	connections   ConnectionCounter
	hasCredential bool
}

func NewHealthHandler(l *lifecycle.Lifecycle, connections ConnectionCounter, hasCredential bool) *HealthHandler {
	return &HealthHandler{lifecycle: l, connections: connections, hasCredential: hasCredential}
}

// Healthz reports process liveness
// @Summary Liveness check
// @Description Process uptime and the number of open relay sockets
// @Tags Operations
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) Healthz(c *gin.Context) {
	count := 0
	if h.connections != nil {
		count = h.connections.Count()
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:               "ok",
		UptimeSeconds:        int64(h.lifecycle.Uptime().Seconds()),
		WebsocketConnections: count,
	})
}

// Readyz reports whether the relay should receive traffic
// @Summary Readiness check
// @Description Not ready while shutting down or when the upstream credential is missing
// @Tags Operations
// @Produce json
// @Success 200 {object} ReadyResponse
// @Failure 503 {object} ReadyResponse
// @Router /readyz [get]
func (h *HealthHandler) Readyz(c *gin.Context) {
	draining := h.lifecycle.IsDraining()
	if draining || !h.hasCredential {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "not-ready", ShuttingDown: draining})
		return
	}
	c.JSON(http.StatusOK, ReadyResponse{Status: "ready", ShuttingDown: false})
}
