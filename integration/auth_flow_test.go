package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFlow(t *testing.T) {
	ts := NewTestServer(t)

	// First login auto-registers and provisions the gem ledger.
	token, accountID := ts.Login(t, "pilot@astral.chat")
	require.NotZero(t, accountID)

	resp := ts.Get(t, "/api/shop/account", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var account struct {
		ChatGems int64 `json:"chat_gems"`
	}
	ReadJSON(t, resp, &account)
	assert.Equal(t, int64(0), account.ChatGems)

	// Refresh rotates the session.
	resp = ts.PostJSON(t, "/api/auth/refresh", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refreshed struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &refreshed)
	require.NotEmpty(t, refreshed.Token)

	resp = ts.Get(t, "/api/friends", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Logout kills the new session and lands the account offline.
	resp = ts.PostJSON(t, "/api/auth/logout", nil, refreshed.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	ts.WaitForStatus(t, accountID, "offline")

	resp = ts.Get(t, "/api/friends", refreshed.Token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
