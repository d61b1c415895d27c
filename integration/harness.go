package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apirest "github.com/astralchat/server/api/rest"
	"github.com/astralchat/server/api/sse"
	apows "github.com/astralchat/server/api/ws"
	"github.com/astralchat/server/audit"
	"github.com/astralchat/server/cache"
	"github.com/astralchat/server/config"
	"github.com/astralchat/server/economy"
	"github.com/astralchat/server/identity"
	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/notify"
	"github.com/astralchat/server/presence"
	"github.com/astralchat/server/relationship"
	"github.com/astralchat/server/scheduler"
	"github.com/astralchat/server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every subsystem wired
// together the way main.go does it.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	PubSub   cache.PubSub
	Notifier *notify.Notifier
	Rel      *relationship.Service
	Presence *presence.Engine
	Economy  *economy.Service
	Sched    *scheduler.Scheduler
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	// ---- Engines ----
	notifier := notify.New(pubsub, logger)
	dir := identity.NewDirectory(db, notifier, logger)
	auditSvc := audit.New(db, logger)
	rel := relationship.NewService(db, dir, notifier, auditSvc, logger)
	pres := presence.NewEngine(db, rel, notifier, 2*time.Minute, logger)
	eco := economy.NewService(db, rel, notifier, auditSvc, 10, logger)

	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	// ---- Gin HTTP Server (mirrors main.go) ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(dir, c, eco, pres, sec, 0)
	friendsH := apirest.NewFriendsHandler(rel, dir)
	shopH := apirest.NewShopHandler(eco)
	presenceH := apirest.NewPresenceHandler(pres)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

		friendsG := api.Group("/friends")
		friendsG.Use(mw.Auth(sec, c))
		friendsG.GET("", friendsH.List)
		friendsG.POST("/request", friendsH.SendRequest)
		friendsG.POST("/accept/:id", friendsH.Accept)
		friendsG.POST("/reject/:id", friendsH.Reject)
		friendsG.GET("/requests/pending", friendsH.ListPending)

		shopG := api.Group("/shop")
		shopG.Use(mw.Auth(sec, c))
		shopG.GET("/catalog", shopH.Catalog)
		shopG.POST("/purchase", shopH.Purchase)
		shopG.POST("/daily-reward", shopH.DailyReward)
		shopG.POST("/gems", shopH.AddGems)
		shopG.GET("/account", shopH.Account)

		presG := api.Group("/presence")
		presG.Use(mw.Auth(sec, c))
		presG.GET("", presenceH.Get)
		presG.PUT("/activity", presenceH.SetActivity)
	}

	wsH := apows.NewHandler(c, sec, pres, logger)
	r.GET("/ws", wsH.ServeWS)

	sseH := sse.NewHandler(notifier, rel, pres, eco, c, sec, logger)
	r.GET("/events", sseH.ServeSSE)

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &TestServer{
		DB:       db,
		Cache:    c,
		PubSub:   pubsub,
		Notifier: notifier,
		Rel:      rel,
		Presence: pres,
		Economy:  eco,
		Sched:    sched,
		Server:   server,
		URL:      server.URL,
		WSURL:    "ws" + server.URL[len("http"):] + "/ws",
		Sec:      sec,
	}
}

// PostJSON sends an authenticated POST with a JSON body.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends an authenticated GET.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Put sends an authenticated PUT with a JSON body.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON decodes a response body into target and closes it.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

// Login signs email in (auto-registering on first use) and returns the
// session token and account id.
func (ts *TestServer) Login(t *testing.T, email string) (string, int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"email":    email,
		"password": "pass1234",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	ReadJSON(t, resp, &body)
	require.NotEmpty(t, body.Token)
	return body.Token, body.AccountID
}

// ConnectWS opens the presence signal channel for the given session.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// WaitForStatus polls until accountID's stored presence matches want.
func (ts *TestServer) WaitForStatus(t *testing.T, accountID int64, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := ts.Presence.Get(context.Background(), accountID)
		require.NoError(t, err)
		if string(snap.Status) == want {
			return
		}
		time.Sleep(15 * time.Millisecond)
	}
	t.Fatalf("account %d never reached presence %q", accountID, want)
}
