package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ldtteam/rewardsync/app/echo-server/router"
	"github.com/ldtteam/rewardsync/business/reconcile"
	"github.com/ldtteam/rewardsync/business/rewards"
	"github.com/ldtteam/rewardsync/business/rules"
	"github.com/ldtteam/rewardsync/internal/bus"
	"github.com/ldtteam/rewardsync/internal/middleware"
	"github.com/ldtteam/rewardsync/internal/repository/discord"
	"github.com/ldtteam/rewardsync/internal/repository/notification"
	psqlRepo "github.com/ldtteam/rewardsync/internal/repository/postgres"
	"github.com/ldtteam/rewardsync/internal/rest"
	"github.com/ldtteam/rewardsync/pkg/config"
	"github.com/ldtteam/rewardsync/pkg/database"
	redisdb "github.com/ldtteam/rewardsync/pkg/database/redis"
	"github.com/ldtteam/rewardsync/pkg/logger"
	"github.com/ldtteam/rewardsync/pkg/metrics"
	"github.com/ldtteam/rewardsync/pkg/utils"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.App.Environment)
	logger.Info("Starting Reward Sync", "version", cfg.App.Version)

	utils.InitJWT(cfg.JWT.SecretKey)
	metrics.Init()

	db, err := database.InitPostgres(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	logger.Info("Database connected successfully")

	redisClient, err := redisdb.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to redis", "error", err)
	}

	// Init repos
	rewardRepo := psqlRepo.NewRewardRepository(db)
	assignRepo := psqlRepo.NewAssignmentRepository(db)
	factsRepo := psqlRepo.NewFactsRepository(db)
	outboxRepo := psqlRepo.NewOutboxRepository(db)
	identityRepo := psqlRepo.NewIdentityRepository(db)

	directoryRepo := discord.NewDirectoryRepository(
		discord.DirectoryConfig{
			BaseURL:  cfg.Directory.BaseURL,
			BotToken: cfg.Directory.BotToken,
		},
	)

	alertRepo := notification.NewWebhookRepository(
		notification.WebhookConfig{
			WebhookURL: cfg.Alert.WebhookURL,
		},
	)

	// Role mapping config is validated against reward definitions before
	// anything starts consuming.
	mappings, err := reconcile.LoadRoleMappings(cfg.App.RoleMappingPath)
	if err != nil {
		logger.Fatal("Failed to load role mappings", "error", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mappings.Validate(startupCtx, rewardRepo); err != nil {
		cancelStartup()
		logger.Fatal("Role mapping validation failed", "error", err)
	}

	// Init bus
	streamBus := bus.NewStreamBus(
		redisClient,
		cfg.Bus.StreamPrefix,
		cfg.Bus.ConsumerGroup,
		cfg.Bus.Shards,
		cfg.Bus.MaxAttempts,
		alertRepo,
	)
	if err := streamBus.EnsureGroups(startupCtx); err != nil {
		cancelStartup()
		logger.Fatal("Failed to prepare bus streams", "error", err)
	}
	cancelStartup()

	triggers := bus.NewTriggerPublisher(streamBus)

	// Init services
	predicateCache := rules.NewCache()
	rewardService := rewards.NewRewardService(rewardRepo, assignRepo, identityRepo, factsRepo, triggers)
	calculator := rewards.NewCalculator(rewardRepo, assignRepo, factsRepo, predicateCache)
	reconciler := reconcile.NewReconcileService(directoryRepo, identityRepo, mappings, cfg.Directory.MaxInFlight)

	// Init handlers
	rewardHandler := rest.NewRewardHandler(rewardService)
	factsHandler := rest.NewFactsHandler(rewardService)
	queryHandler := rest.NewQueryHandler(rewardService)

	// Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())

	busRouter := bus.NewRouter()
	busRouter.Register(bus.TopicFactsChanged, bus.FactsChangedHandler(calculator))
	busRouter.Register(bus.TopicRewardEvents, bus.RewardEventHandler(reconciler))

	dispatcher := bus.NewDispatcher(outboxRepo, streamBus)
	go dispatcher.Run(workerCtx)

	workersDone := make(chan struct{})
	go func() {
		streamBus.Run(workerCtx, busRouter)
		close(workersDone)
	}()

	// Init echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.HTTPErrorHandler = middleware.ErrorHandler

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	authRequired := middleware.AuthMiddleware()
	adminOnly := middleware.AdminOnly()

	api := e.Group("/api/v1")
	router.SetupRewardRoutes(api, rewardHandler, authRequired, adminOnly)
	router.SetupFactsRoutes(api, factsHandler)
	router.SetupQueryRoutes(api, queryHandler)

	// Goroutine server
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		logger.Info("Server starting", "address", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	// Workers finish their in-flight event or leave it pending for
	// redelivery; never half-applied.
	stopWorkers()
	select {
	case <-workersDone:
	case <-time.After(15 * time.Second):
		logger.Warn("Workers did not drain in time")
	}

	if err := redisdb.CloseRedisClient(redisClient); err != nil {
		logger.Error("Redis close error", "error", err)
	}

	logger.Info("Server stopped")
}
