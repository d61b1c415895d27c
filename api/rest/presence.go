package rest

import (
	"net/http"
	"strconv"

	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/presence"
	"github.com/gin-gonic/gin"
)

// PresenceHandler handles the presence read and activity REST endpoints.
type PresenceHandler struct {
	engine *presence.Engine
}

// NewPresenceHandler creates a new PresenceHandler.
func NewPresenceHandler(engine *presence.Engine) *PresenceHandler {
	return &PresenceHandler{engine: engine}
}

// Get handles GET /api/presence. With ?account_id it reads another
// account's presence, otherwise the caller's own.
func (h *PresenceHandler) Get(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	if q := c.Query("account_id"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account_id"})
			return
		}
		accountID = id
	}

	snap, err := h.engine.Get(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// SetActivity handles PUT /api/presence/activity. A null body field
// clears the activity; status is never touched either way.
func (h *PresenceHandler) SetActivity(c *gin.Context) {
	var req struct {
		Activity *presence.Activity `json:"activity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Activity != nil {
		switch req.Activity.Type {
		case "spotify", "game", "app":
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "activity type must be spotify, game or app"})
			return
		}
		if req.Activity.Name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "activity name is required"})
			return
		}
	}

	if err := h.engine.SetActivity(c.Request.Context(), mw.GetAccountID(c), req.Activity); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "activity updated"})
}
