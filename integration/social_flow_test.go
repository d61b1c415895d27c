package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type friendView struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	ChatGems  int64  `json:"chat_gems"`
}

func listFriends(t *testing.T, ts *TestServer, token string) []friendView {
	t.Helper()
	resp := ts.Get(t, "/api/friends", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Friends []friendView `json:"friends"`
	}
	ReadJSON(t, resp, &body)
	return body.Friends
}

func TestFriendAndPresenceFlow(t *testing.T) {
	ts := NewTestServer(t)
	novaTok, novaID := ts.Login(t, "nova@astral.chat")
	orionTok, orionID := ts.Login(t, "orion@astral.chat")

	// Nova requests, Orion sees it pending and accepts.
	resp := ts.PostJSON(t, "/api/friends/request", map[string]string{"email": "orion@astral.chat"}, novaTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		RequestID int64 `json:"request_id"`
	}
	ReadJSON(t, resp, &created)

	resp = ts.Get(t, "/api/friends/requests/pending", orionTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending struct {
		Requests []struct {
			ID        int64  `json:"id"`
			FromEmail string `json:"from_email"`
		} `json:"requests"`
	}
	ReadJSON(t, resp, &pending)
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, "nova@astral.chat", pending.Requests[0].FromEmail)

	resp = ts.PostJSON(t, fmt.Sprintf("/api/friends/accept/%d", created.RequestID), nil, orionTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Both sides see the friendship; Orion reads as offline so far.
	novaFriends := listFriends(t, ts, novaTok)
	require.Len(t, novaFriends, 1)
	assert.Equal(t, orionID, novaFriends[0].AccountID)
	assert.Equal(t, "offline", novaFriends[0].Status)
	require.Len(t, listFriends(t, ts, orionTok), 1)

	// Orion connects the presence channel: online in Nova's list.
	conn := ts.ConnectWS(t, orionTok)
	ts.WaitForStatus(t, orionID, "online")
	novaFriends = listFriends(t, ts, novaTok)
	assert.Equal(t, "online", novaFriends[0].Status)

	// Blur drops Orion to idle.
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "blur"}))
	ts.WaitForStatus(t, orionID, "idle")
	novaFriends = listFriends(t, ts, novaTok)
	assert.Equal(t, "idle", novaFriends[0].Status)

	// Dropping the socket is a best-effort disconnect.
	conn.Close()
	ts.WaitForStatus(t, orionID, "offline")
	_ = novaID
}

func TestRejectFlowKeepsAuditTrail(t *testing.T) {
	ts := NewTestServer(t)
	novaTok, _ := ts.Login(t, "nova@astral.chat")
	orionTok, _ := ts.Login(t, "orion@astral.chat")

	resp := ts.PostJSON(t, "/api/friends/request", map[string]string{"email": "orion@astral.chat"}, novaTok)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		RequestID int64 `json:"request_id"`
	}
	ReadJSON(t, resp, &created)

	resp = ts.PostJSON(t, fmt.Sprintf("/api/friends/reject/%d", created.RequestID), nil, orionTok)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// No friendship came out of it and the pair may retry.
	assert.Empty(t, listFriends(t, ts, novaTok))
	resp = ts.PostJSON(t, "/api/friends/request", map[string]string{"email": "orion@astral.chat"}, novaTok)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

func TestPresenceSweepGoesThroughScheduler(t *testing.T) {
	ts := NewTestServer(t)
	orionTok, orionID := ts.Login(t, "orion@astral.chat")

	ts.ConnectWS(t, orionTok)
	ts.WaitForStatus(t, orionID, "online")

	// Register the sweep the way main.go does. The tracker heartbeat is
	// fresh, so repeated sweeps must leave the session online.
	ran := make(chan struct{}, 1)
	ts.Sched.AddTicker("presence_sweep", 20*time.Millisecond, func() {
		ts.Presence.Sweep(context.Background())
		select {
		case ran <- struct{}{}:
		default:
		}
	})
	t.Cleanup(func() { ts.Sched.Remove("presence_sweep") })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never ran the sweep")
	}
	ts.WaitForStatus(t, orionID, "online")
}
