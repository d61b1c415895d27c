package rest_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendRequest(t *testing.T, e *env, token, email string) int64 {
	t.Helper()
	w := e.do(http.MethodPost, "/api/friends/request", map[string]string{"email": email}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return int64(decode(t, w)["request_id"].(float64))
}

func TestFriendRequestLifecycle(t *testing.T) {
	e := newEnv(t)
	aliceTok, _ := e.login(t, "alice@example.com")
	bobTok, _ := e.login(t, "bob@example.com")

	reqID := sendRequest(t, e, aliceTok, "bob@example.com")

	// Bob sees it pending.
	w := e.do(http.MethodGet, "/api/friends/requests/pending", nil, bobTok)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode(t, w)["requests"].([]interface{})
	require.Len(t, pending, 1)

	// Bob accepts.
	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/accept/%d", reqID), nil, bobTok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, decode(t, w)["friendship_id"])

	// Both friend lists now show the other.
	for _, tok := range []string{aliceTok, bobTok} {
		w = e.do(http.MethodGet, "/api/friends", nil, tok)
		require.Equal(t, http.StatusOK, w.Code)
		friends := decode(t, w)["friends"].([]interface{})
		assert.Len(t, friends, 1)
	}

	// Nothing pending anymore.
	w = e.do(http.MethodGet, "/api/friends/requests/pending", nil, bobTok)
	assert.Empty(t, decode(t, w)["requests"])
}

func TestFriendRequestErrors(t *testing.T) {
	e := newEnv(t)
	aliceTok, _ := e.login(t, "alice@example.com")
	e.login(t, "bob@example.com")

	// Self request.
	w := e.do(http.MethodPost, "/api/friends/request", map[string]string{"email": "alice@example.com"}, aliceTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown target.
	w = e.do(http.MethodPost, "/api/friends/request", map[string]string{"email": "ghost@example.com"}, aliceTok)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Duplicate.
	sendRequest(t, e, aliceTok, "bob@example.com")
	w = e.do(http.MethodPost, "/api/friends/request", map[string]string{"email": "bob@example.com"}, aliceTok)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAcceptAuthorization(t *testing.T) {
	e := newEnv(t)
	aliceTok, _ := e.login(t, "alice@example.com")
	bobTok, _ := e.login(t, "bob@example.com")
	eveTok, _ := e.login(t, "eve@example.com")

	reqID := sendRequest(t, e, aliceTok, "bob@example.com")

	// Neither a third party nor the sender may accept.
	w := e.do(http.MethodPost, fmt.Sprintf("/api/friends/accept/%d", reqID), nil, eveTok)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/accept/%d", reqID), nil, aliceTok)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown id.
	w = e.do(http.MethodPost, "/api/friends/accept/99999", nil, bobTok)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(http.MethodPost, "/api/friends/accept/abc", nil, bobTok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Accepting twice conflicts.
	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/accept/%d", reqID), nil, bobTok)
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(http.MethodPost, fmt.Sprintf("/api/friends/accept/%d", reqID), nil, bobTok)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRejectAllowsReRequest(t *testing.T) {
	e := newEnv(t)
	aliceTok, _ := e.login(t, "alice@example.com")
	bobTok, _ := e.login(t, "bob@example.com")

	reqID := sendRequest(t, e, aliceTok, "bob@example.com")

	w := e.do(http.MethodPost, fmt.Sprintf("/api/friends/reject/%d", reqID), nil, bobTok)
	require.Equal(t, http.StatusOK, w.Code)

	// The pair may try again right away.
	sendRequest(t, e, aliceTok, "bob@example.com")
}
