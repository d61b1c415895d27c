package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/astralchat/server/cache"
	"github.com/astralchat/server/config"
	"github.com/astralchat/server/economy"
	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/notify"
	"github.com/astralchat/server/presence"
	"github.com/astralchat/server/relationship"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler streams live projections to one signed-in client: the friend
// list, inbound pending requests, own presence and the gem ledger. Each
// domain event triggers a fresh re-query of the affected projection;
// event payloads are treated as wake-ups, never as state.
type Handler struct {
	notifier *notify.Notifier
	rel      *relationship.Service
	pres     *presence.Engine
	eco      *economy.Service
	c        cache.Cache
	sec      config.SecurityConfig
	logger   *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(notifier *notify.Notifier, rel *relationship.Service, pres *presence.Engine, eco *economy.Service, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{notifier: notifier, rel: rel, pres: pres, eco: eco, c: c, sec: sec, logger: logger}
}

// ServeSSE handles GET /events?token=<jwt>.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}
	accountID := claims.AccountID

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events, unsub, err := h.notifier.Subscribe(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Error("sse subscribe failed",
			zap.Int64("account_id", accountID), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	// Initial snapshots so the client renders without a separate fetch.
	h.pushFriends(c, accountID)
	h.pushPending(c, accountID)
	h.pushPresence(c, accountID)
	h.pushEconomy(c, accountID)
	c.Writer.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			h.dispatch(c, accountID, evt)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// dispatch re-projects whichever snapshots the event can have changed.
func (h *Handler) dispatch(c *gin.Context, accountID int64, evt notify.Event) {
	switch evt.Type {
	case notify.EventFriendRequestCreated, notify.EventFriendRequestAccepted, notify.EventFriendRequestRejected:
		h.pushPending(c, accountID)
		h.pushFriends(c, accountID)
	case notify.EventFriendshipCreated, notify.EventConversationCreated:
		h.pushFriends(c, accountID)
	case notify.EventPresenceChanged:
		h.pushFriends(c, accountID)
		if evt.AccountID == accountID {
			h.pushPresence(c, accountID)
		}
	case notify.EventEconomyChanged:
		h.pushFriends(c, accountID)
		if evt.AccountID == accountID {
			h.pushEconomy(c, accountID)
		}
	case notify.EventSignedIn, notify.EventSignedOut:
		h.pushPresence(c, accountID)
	}
}

func (h *Handler) pushFriends(c *gin.Context, accountID int64) {
	friends, err := h.rel.ListFriends(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Warn("sse friends projection failed", zap.Error(err))
		return
	}
	h.write(c, "friends", friends)
}

func (h *Handler) pushPending(c *gin.Context, accountID int64) {
	pending, err := h.rel.ListPendingRequests(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Warn("sse pending projection failed", zap.Error(err))
		return
	}
	h.write(c, "pending_requests", pending)
}

func (h *Handler) pushPresence(c *gin.Context, accountID int64) {
	snap, err := h.pres.Get(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Warn("sse presence projection failed", zap.Error(err))
		return
	}
	h.write(c, "presence", snap)
}

func (h *Handler) pushEconomy(c *gin.Context, accountID int64) {
	snap, err := h.eco.Snapshot(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Warn("sse economy projection failed", zap.Error(err))
		return
	}
	h.write(c, "economy", snap)
}

func (h *Handler) write(c *gin.Context, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("sse payload marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
}
