package main

import (
	"context"
	"fmt"
	"log"
	"os"

	apirest "github.com/astralchat/server/api/rest"
	"github.com/astralchat/server/api/sse"
	apows "github.com/astralchat/server/api/ws"
	"github.com/astralchat/server/audit"
	"github.com/astralchat/server/cache"
	"github.com/astralchat/server/config"
	dbadapter "github.com/astralchat/server/db"
	"github.com/astralchat/server/economy"
	"github.com/astralchat/server/identity"
	mw "github.com/astralchat/server/middleware"
	"github.com/astralchat/server/model"
	"github.com/astralchat/server/notify"
	"github.com/astralchat/server/presence"
	"github.com/astralchat/server/relationship"
	"github.com/astralchat/server/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	c, err := cache.NewCache(cfg.Cache)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cfg.Cache)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Engines ----
	notifier := notify.New(pubsub, logger)
	dir := identity.NewDirectory(db, notifier, logger)
	rel := relationship.NewService(db, dir, notifier, auditSvc, logger)
	pres := presence.NewEngine(db, rel, notifier, cfg.Presence.OfflineAfter, logger)
	eco := economy.NewService(db, rel, notifier, auditSvc, cfg.Economy.DailyRewardGems, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	sched.AddTicker("presence_sweep", cfg.Presence.SweepInterval, func() {
		if n := pres.Sweep(context.Background()); n > 0 {
			logger.Info("presence sweep", zap.Int("swept", n))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(dir, c, eco, pres, cfg.Security, cfg.Economy.SignupBonusGems)
	friendsH := apirest.NewFriendsHandler(rel, dir)
	shopH := apirest.NewShopHandler(eco)
	presenceH := apirest.NewPresenceHandler(pres)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		friendsG := api.Group("/friends")
		friendsG.Use(mw.Auth(cfg.Security, c))
		friendsG.GET("", friendsH.List)
		friendsG.POST("/request", friendsH.SendRequest)
		friendsG.POST("/accept/:id", friendsH.Accept)
		friendsG.POST("/reject/:id", friendsH.Reject)
		friendsG.GET("/requests/pending", friendsH.ListPending)

		shopG := api.Group("/shop")
		shopG.Use(mw.Auth(cfg.Security, c))
		shopG.GET("/catalog", shopH.Catalog)
		shopG.POST("/purchase", shopH.Purchase)
		shopG.POST("/daily-reward", shopH.DailyReward)
		shopG.POST("/gems", shopH.AddGems)
		shopG.GET("/account", shopH.Account)

		presG := api.Group("/presence")
		presG.Use(mw.Auth(cfg.Security, c))
		presG.GET("", presenceH.Get)
		presG.PUT("/activity", presenceH.SetActivity)
	}

	// ---- WebSocket (presence signal channel) ----
	wsH := apows.NewHandler(c, cfg.Security, pres, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE (live projections) ----
	sseH := sse.NewHandler(notifier, rel, pres, eco, c, cfg.Security, logger)
	r.GET("/events", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
