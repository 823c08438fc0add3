package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/poemonsense/warp-proxy-go/internal/account"
	"github.com/poemonsense/warp-proxy-go/internal/utils"
	"github.com/poemonsense/warp-proxy-go/internal/warp"
)

// AccountsHandler serves pool management endpoints
type AccountsHandler struct {
	manager *account.Manager
	client  *warp.Client
}

// NewAccountsHandler creates a new AccountsHandler
func NewAccountsHandler(manager *account.Manager, client *warp.Client) *AccountsHandler {
	return &AccountsHandler{manager: manager, client: client}
}

// List handles GET /accounts
func (h *AccountsHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total":     h.manager.Count(),
		"available": h.manager.AvailableCount(),
		"accounts":  h.manager.Snapshots(),
	})
}

// Add handles POST /accounts. A missing name gets a generated one.
func (h *AccountsHandler) Add(c *gin.Context) {
	var body struct {
		Name         string `json:"name"`
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}
	if body.Name == "" {
		body.Name = "account-" + uuid.NewString()[:8]
	}

	acc, err := h.manager.Add(body.Name, body.RefreshToken)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	utils.Success("[API] Account added: %s", acc.Name)
	c.JSON(http.StatusCreated, acc.ToSnapshot(h.manager.Retry429Interval()))
}

// Remove handles DELETE /accounts/:name
func (h *AccountsHandler) Remove(c *gin.Context) {
	name := c.Param("name")
	if err := h.manager.Remove(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": name})
}

// Reload handles POST /accounts/reload, re-reading the backing store
func (h *AccountsHandler) Reload(c *gin.Context) {
	if err := h.manager.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     h.manager.Count(),
		"available": h.manager.AvailableCount(),
	})
}

// Refresh handles POST /accounts/refresh, serially refreshing tokens
func (h *AccountsHandler) Refresh(c *gin.Context) {
	refreshed := h.client.RefreshAll(c.Request.Context(), h.manager.Accounts(), func(acc *account.Account, err error) {
		if ue, ok := warp.AsUpstreamError(err); ok {
			switch {
			case ue.IsQuotaExhausted():
				h.manager.MarkQuotaExhausted(acc)
			case ue.IsBlocked():
				h.manager.MarkBlocked(acc)
			case ue.IsRateLimited():
				h.manager.MarkRateLimited(acc)
			}
		}
	})

	c.JSON(http.StatusOK, gin.H{
		"refreshed": refreshed,
		"total":     h.manager.Count(),
	})
}

// DeleteBlocked handles DELETE /accounts/blocked
func (h *AccountsHandler) DeleteBlocked(c *gin.Context) {
	removed := h.manager.DeleteBlocked()
	c.JSON(http.StatusOK, gin.H{
		"removed": removed,
		"count":   len(removed),
	})
}
