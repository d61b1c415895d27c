package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/astralchat/server/cache"
	"github.com/astralchat/server/config"
	"github.com/astralchat/server/economy"
	"github.com/astralchat/server/identity"
	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/presence"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	dir      *identity.Directory
	cache    cache.Cache
	eco      *economy.Service
	presence *presence.Engine
	sec      config.SecurityConfig
	bonus    int64
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(dir *identity.Directory, c cache.Cache, eco *economy.Service, pres *presence.Engine, sec config.SecurityConfig, signupBonus int64) *AuthHandler {
	return &AuthHandler{dir: dir, cache: c, eco: eco, presence: pres, sec: sec, bonus: signupBonus}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=4,max=64"`
}

// Login handles POST /api/auth/login.
// Unknown emails are auto-registered on first login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, created, err := h.dir.Authenticate(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if errors.Is(err, identity.ErrBadCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// Every signed-in account has a ledger row; a no-op after the first
	// login.
	if err := h.eco.Provision(c.Request.Context(), acc.ID, h.bonus); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	token, err := mw.GenerateToken(acc.ID, acc.Email, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Set(ctx, "session:"+token, strconv.FormatInt(acc.ID, 10), h.sec.JWTTTLH)

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"account_id": acc.ID,
		"email":      acc.Email,
		"created":    created,
	})
}

// Logout handles POST /api/auth/logout. Invalidates the session and
// drives the caller's presence offline.
func (h *AuthHandler) Logout(c *gin.Context) {
	header := c.GetHeader("Authorization")
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+tokenStr)

	accountID := mw.GetAccountID(c)
	h.presence.SignOut(c.Request.Context(), accountID)
	h.dir.SignedOut(c.Request.Context(), accountID)

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	email := mw.GetEmail(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// Invalidate the old token before issuing its replacement.
	header := c.GetHeader("Authorization")
	oldToken := strings.TrimPrefix(header, "Bearer ")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, "session:"+oldToken)

	newToken, err := mw.GenerateToken(accountID, email, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	_ = h.cache.Set(ctx, "session:"+newToken, strconv.FormatInt(accountID, 10), h.sec.JWTTTLH)

	c.JSON(http.StatusOK, gin.H{"token": newToken})
}
