package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/stats"
)

// StatsHandler serves aggregated request accounting
type StatsHandler struct {
	manager  *account.Manager
	recorder *stats.Recorder
}

// NewStatsHandler creates a new StatsHandler
func NewStatsHandler(manager *account.Manager, recorder *stats.Recorder) *StatsHandler {
	return &StatsHandler{manager: manager, recorder: recorder}
}

// Stats handles GET /stats
func (h *StatsHandler) Stats(c *gin.Context) {
	summary, err := h.recorder.Summarize()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": summary,
		"accounts": h.manager.Snapshots(),
	})
}
