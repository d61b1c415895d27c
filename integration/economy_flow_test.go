package integration

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShopFlow(t *testing.T) {
	ts := NewTestServer(t)
	token, _ := ts.Login(t, "vega@astral.chat")

	// Daily reward, then top up to exactly the sparkle price.
	resp := ts.PostJSON(t, "/api/shop/daily-reward", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reward struct {
		Claimed  bool  `json:"claimed"`
		ChatGems int64 `json:"chat_gems"`
	}
	ReadJSON(t, resp, &reward)
	require.True(t, reward.Claimed)
	require.Equal(t, int64(10), reward.ChatGems)

	resp = ts.PostJSON(t, "/api/shop/gems", map[string]int64{"amount": 40}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PostJSON(t, "/api/shop/purchase", map[string]string{"animation_id": "sparkle-message"}, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var purchase struct {
		Granted  bool  `json:"granted"`
		ChatGems int64 `json:"chat_gems"`
	}
	ReadJSON(t, resp, &purchase)
	assert.True(t, purchase.Granted)
	assert.Equal(t, int64(0), purchase.ChatGems)

	// Second claim on the same day is declined.
	resp = ts.PostJSON(t, "/api/shop/daily-reward", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ReadJSON(t, resp, &reward)
	assert.False(t, reward.Claimed)

	// The account view carries the owned set.
	resp = ts.Get(t, "/api/shop/account", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var account struct {
		ChatGems        int64    `json:"chat_gems"`
		OwnedAnimations []string `json:"owned_animations"`
	}
	ReadJSON(t, resp, &account)
	assert.Equal(t, int64(0), account.ChatGems)
	assert.Equal(t, []string{"sparkle-message"}, account.OwnedAnimations)
}

func TestFriendSeesGemBalance(t *testing.T) {
	ts := NewTestServer(t)
	novaTok, _ := ts.Login(t, "nova@astral.chat")
	orionTok, _ := ts.Login(t, "orion@astral.chat")

	resp := ts.PostJSON(t, "/api/friends/request", map[string]string{"email": "orion@astral.chat"}, novaTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		RequestID int64 `json:"request_id"`
	}
	ReadJSON(t, resp, &created)
	resp = ts.PostJSON(t, fmt.Sprintf("/api/friends/accept/%d", created.RequestID), nil, orionTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.PostJSON(t, "/api/shop/gems", map[string]int64{"amount": 75}, orionTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	friends := listFriends(t, ts, novaTok)
	require.Len(t, friends, 1)
	assert.Equal(t, int64(75), friends[0].ChatGems)
}
