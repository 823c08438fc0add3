package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/poemonsense/warp-proxy-go/internal/config"
)

// ModelsHandler serves the static model listing
type ModelsHandler struct{}

// NewModelsHandler creates a new ModelsHandler
func NewModelsHandler() *ModelsHandler {
	return &ModelsHandler{}
}

// ListModels handles GET /v1/models in the OpenAI list format
func (h *ModelsHandler) ListModels(c *gin.Context) {
	created := time.Now().Unix()
	data := make([]gin.H, 0, len(config.SupportedModels))
	for _, m := range config.SupportedModels {
		data = append(data, gin.H{
			"id":       m.ID,
			"object":   "model",
			"created":  created,
			"owned_by": m.OwnedBy,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}
