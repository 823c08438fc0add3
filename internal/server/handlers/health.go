package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/warp-proxy-go/internal/account"
)

// HealthHandler serves the liveness and pool status endpoint
type HealthHandler struct {
	manager *account.Manager
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(manager *account.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// Health handles GET /health. The pool is degraded when no account can
// serve a request right now.
func (h *HealthHandler) Health(c *gin.Context) {
	total := h.manager.Count()
	available := h.manager.AvailableCount()

	status := "healthy"
	if available == 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"accounts": gin.H{
			"total":     total,
			"available": available,
		},
	})
}
