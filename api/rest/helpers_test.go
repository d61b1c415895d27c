package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/astralchat/server/api/rest"
	"github.com/astralchat/server/audit"
	"github.com/astralchat/server/cache"
	"github.com/astralchat/server/config"
	"github.com/astralchat/server/economy"
	"github.com/astralchat/server/identity"
	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/notify"
	"github.com/astralchat/server/presence"
	"github.com/astralchat/server/relationship"
	"github.com/astralchat/server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	router *gin.Engine
	db     *gorm.DB
	cache  cache.Cache
	eco    *economy.Service
	pres   *presence.Engine
	rel    *relationship.Service
	sec    config.SecurityConfig
}

// newEnv wires the full handler stack against in-memory backends, with
// the same route layout the server uses.
func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{
		JWTSecret: "test-secret",
		JWTTTLH:   72 * time.Hour,
	}

	notifier := notify.New(ps, logger)
	dir := identity.NewDirectory(db, notifier, logger)
	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	rel := relationship.NewService(db, dir, notifier, auditSvc, logger)
	pres := presence.NewEngine(db, rel, notifier, 2*time.Minute, logger)
	eco := economy.NewService(db, rel, notifier, auditSvc, 10, logger)

	authH := rest.NewAuthHandler(dir, c, eco, pres, sec, 0)
	friendsH := rest.NewFriendsHandler(rel, dir)
	shopH := rest.NewShopHandler(eco)
	presenceH := rest.NewPresenceHandler(pres)

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/auth/login", authH.Login)
		api.POST("/auth/logout", mw.Auth(sec, c), authH.Logout)
		api.POST("/auth/refresh", mw.Auth(sec, c), authH.Refresh)

		friendsG := api.Group("/friends", mw.Auth(sec, c))
		friendsG.GET("", friendsH.List)
		friendsG.POST("/request", friendsH.SendRequest)
		friendsG.POST("/accept/:id", friendsH.Accept)
		friendsG.POST("/reject/:id", friendsH.Reject)
		friendsG.GET("/requests/pending", friendsH.ListPending)

		shopG := api.Group("/shop", mw.Auth(sec, c))
		shopG.GET("/catalog", shopH.Catalog)
		shopG.POST("/purchase", shopH.Purchase)
		shopG.POST("/daily-reward", shopH.DailyReward)
		shopG.POST("/gems", shopH.AddGems)
		shopG.GET("/account", shopH.Account)

		presG := api.Group("/presence", mw.Auth(sec, c))
		presG.GET("", presenceH.Get)
		presG.PUT("/activity", presenceH.SetActivity)
	}
	return &env{router: r, db: db, cache: c, eco: eco, pres: pres, rel: rel, sec: sec}
}

func (e *env) do(method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// login signs email in (auto-registering on first use) and returns the
// session token and account id.
func (e *env) login(t *testing.T, email string) (string, int64) {
	t.Helper()
	w := e.do(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": "pass1234",
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Token, resp.AccountID
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
