package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/astralchat/server/cache"
	"github.com/astralchat/server/config"
	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/presence"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	readDeadline = 90 * time.Second
	writeTimeout = 10 * time.Second
)

// packet is one inbound presence signal from the client.
type packet struct {
	Type     string             `json:"type"` // focus | blur | heartbeat | activity
	Activity *presence.Activity `json:"activity,omitempty"`
}

// Handler is the Gin handler for GET /ws, the presence signal channel.
// The socket's lifetime is the session's tracking scope: connecting
// brings the account online, a read error or close tears tracking down.
type Handler struct {
	cache    cache.Cache
	sec      config.SecurityConfig
	engine   *presence.Engine
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler. sec.AllowedOrigins
// controls which origins are accepted; an empty slice permits all
// (development only).
func NewHandler(c cache.Cache, sec config.SecurityConfig, engine *presence.Engine, logger *zap.Logger) *Handler {
	h := &Handler{
		cache:  c,
		sec:    sec,
		engine: engine,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>.
func (h *Handler) ServeWS(c *gin.Context) {
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
	exists, err := h.cache.Exists(ctx, "session:"+tokenStr)
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	tracker, err := h.engine.StartTracking(context.Background(), claims.AccountID)
	if err != nil {
		h.logger.Error("presence tracking failed",
			zap.Int64("account_id", claims.AccountID), zap.Error(err))
		_ = conn.Close()
		return
	}

	h.readPump(conn, claims.AccountID, tracker)
}

// readPump consumes presence packets until the socket dies. Teardown is
// deferred so tracking stops on every exit path, including a panic in a
// signal handler; an abrupt close is a best-effort disconnect.
func (h *Handler) readPump(conn *websocket.Conn, accountID int64, tracker *presence.Tracker) {
	defer func() {
		h.engine.StopTracking(context.Background(), tracker, presence.SignalDisconnect)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("account_id", accountID),
					zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		h.handlePacket(conn, accountID, tracker, raw)
	}
}

func (h *Handler) handlePacket(conn *websocket.Conn, accountID int64, tracker *presence.Tracker, raw []byte) {
	var pkt packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		h.writeError(conn, "malformed packet")
		return
	}

	ctx := context.Background()
	switch pkt.Type {
	case "focus":
		h.signal(ctx, conn, tracker, presence.SignalFocus)
	case "blur":
		h.signal(ctx, conn, tracker, presence.SignalBlur)
	case "heartbeat":
		h.signal(ctx, conn, tracker, presence.SignalHeartbeat)
	case "activity":
		if err := h.engine.SetActivity(ctx, accountID, pkt.Activity); err != nil {
			h.logger.Warn("activity write failed",
				zap.Int64("account_id", accountID), zap.Error(err))
			h.writeError(conn, "activity update failed")
		}
	default:
		h.writeError(conn, "unknown packet type")
	}
}

func (h *Handler) signal(ctx context.Context, conn *websocket.Conn, tracker *presence.Tracker, sig presence.Signal) {
	if err := tracker.Signal(ctx, sig); err != nil {
		h.logger.Warn("presence signal write failed",
			zap.String("signal", string(sig)), zap.Error(err))
		h.writeError(conn, "presence update failed")
	}
}

func (h *Handler) writeError(conn *websocket.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteJSON(gin.H{"error": msg})
}
