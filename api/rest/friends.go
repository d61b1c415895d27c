package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/astralchat/server/identity"
	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/relationship"
	"github.com/gin-gonic/gin"
)

// FriendsHandler handles friend-request and friendship REST endpoints.
type FriendsHandler struct {
	svc *relationship.Service
	dir *identity.Directory
}

// NewFriendsHandler creates a new FriendsHandler.
func NewFriendsHandler(svc *relationship.Service, dir *identity.Directory) *FriendsHandler {
	return &FriendsHandler{svc: svc, dir: dir}
}

// relationshipStatus maps service errors onto HTTP statuses. Unmapped
// errors are internal.
func relationshipStatus(err error) (int, string) {
	switch {
	case errors.Is(err, relationship.ErrSelfRequest):
		return http.StatusBadRequest, "cannot send a friend request to yourself"
	case errors.Is(err, identity.ErrUnknownUser):
		return http.StatusNotFound, "no user with that email"
	case errors.Is(err, relationship.ErrDuplicateRequest):
		return http.StatusConflict, "a request between you is already pending"
	case errors.Is(err, relationship.ErrAlreadyFriends):
		return http.StatusConflict, "already friends"
	case errors.Is(err, relationship.ErrAlreadyResolved):
		return http.StatusConflict, "request already resolved"
	case errors.Is(err, relationship.ErrNotFound):
		return http.StatusNotFound, "request not found"
	case errors.Is(err, relationship.ErrNotAuthorized):
		return http.StatusForbidden, "request is not addressed to you"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// SendRequest handles POST /api/friends/request.
func (h *FriendsHandler) SendRequest(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller, err := h.dir.ByID(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown caller"})
		return
	}

	id, err := h.svc.SendRequest(c.Request.Context(), caller, req.Email)
	if err != nil {
		status, msg := relationshipStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request_id": id})
}

// Accept handles POST /api/friends/accept/:id.
func (h *FriendsHandler) Accept(c *gin.Context) {
	reqID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	caller, err := h.dir.ByID(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown caller"})
		return
	}

	friendshipID, err := h.svc.AcceptRequest(c.Request.Context(), caller, reqID)
	if err != nil {
		status, msg := relationshipStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendship_id": friendshipID})
}

// Reject handles POST /api/friends/reject/:id.
func (h *FriendsHandler) Reject(c *gin.Context) {
	reqID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	caller, err := h.dir.ByID(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown caller"})
		return
	}

	if err := h.svc.RejectRequest(c.Request.Context(), caller, reqID); err != nil {
		status, msg := relationshipStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "rejected"})
}

// List handles GET /api/friends.
func (h *FriendsHandler) List(c *gin.Context) {
	friends, err := h.svc.ListFriends(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// ListPending handles GET /api/friends/requests/pending.
func (h *FriendsHandler) ListPending(c *gin.Context) {
	pending, err := h.svc.ListPendingRequests(c.Request.Context(), mw.GetAccountID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": pending})
}
