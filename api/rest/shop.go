package rest

import (
	"errors"
	"net/http"

	"github.com/astralchat/server/economy"
	mw "github.com/astralchat/server/middleware"
	"github.com/gin-gonic/gin"
)

// ShopHandler handles the animation shop and chat-gem REST endpoints.
type ShopHandler struct {
	eco *economy.Service
}

// NewShopHandler creates a new ShopHandler.
func NewShopHandler(eco *economy.Service) *ShopHandler {
	return &ShopHandler{eco: eco}
}

// Catalog handles GET /api/shop/catalog.
func (h *ShopHandler) Catalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": economy.Catalog()})
}

// Purchase handles POST /api/shop/purchase. A declined purchase (already
// owned, or not enough gems) is a normal 200 with granted=false, not an
// error.
func (h *ShopHandler) Purchase(c *gin.Context) {
	var req struct {
		AnimationID string `json:"animation_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accountID := mw.GetAccountID(c)
	granted, err := h.eco.Purchase(c.Request.Context(), accountID, req.AnimationID)
	if errors.Is(err, economy.ErrUnknownItem) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such animation"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	snap, err := h.eco.Snapshot(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": granted, "chat_gems": snap.ChatGems})
}

// DailyReward handles POST /api/shop/daily-reward.
func (h *ShopHandler) DailyReward(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	claimed, err := h.eco.ClaimDailyReward(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	snap, err := h.eco.Snapshot(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": claimed, "chat_gems": snap.ChatGems})
}

// AddGems handles POST /api/shop/gems.
func (h *ShopHandler) AddGems(c *gin.Context) {
	var req struct {
		Amount int64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	balance, err := h.eco.AddGems(c.Request.Context(), mw.GetAccountID(c), req.Amount)
	if errors.Is(err, economy.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_gems": balance})
}

// Account handles GET /api/shop/account.
func (h *ShopHandler) Account(c *gin.Context) {
	snap, err := h.eco.Snapshot(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, snap)
}
