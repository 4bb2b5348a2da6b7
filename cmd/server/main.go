// @title           Storyboard Backend API
// @version         1.0.0
// @description     Backend API for storyboard video generation with Sora. It submits generation tasks, tracks their status, stores results in Supabase Storage and fans them out to shots, scenes and characters.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"storyboard-backend/docs"
	"storyboard-backend/internal/config"
	"storyboard-backend/internal/database"
	"storyboard-backend/internal/events"
	"storyboard-backend/internal/handlers"
	"storyboard-backend/internal/logging"
	"storyboard-backend/internal/middleware"
	"storyboard-backend/internal/services"
	"storyboard-backend/internal/sora"
	"storyboard-backend/internal/store"
	"storyboard-backend/internal/supabase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.NewLogger("info").Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		"environment", cfg.Environment,
		"sora_base_url", cfg.SoraAPIBaseURL,
		"sora_api_key", logging.SanitizeToken(cfg.SoraAPIKey),
		"sweep_interval", cfg.Tuning.SweepInterval.String(),
	)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Update Swagger docs with dynamic base URL
	if cfg.BaseURL != "" {
		baseURL, err := url.Parse(cfg.BaseURL)
		if err == nil {
			docs.SwaggerInfo.Host = baseURL.Host
			if baseURL.Scheme == "https" {
				docs.SwaggerInfo.Schemes = []string{"https", "http"}
			} else {
				docs.SwaggerInfo.Schemes = []string{"http", "https"}
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence: Postgres or SQLite when DATABASE_URL is set, memory otherwise.
	var stores services.Stores
	var dbClient *supabase.DatabaseClient
	if cfg.DatabaseURL != "" {
		dbClient, err = supabase.NewDatabaseClient(cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to initialize database client", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()

		migrator := database.NewMigrator(dbClient.DB(), dbClient.Dialect(), logging.WithComponent(logger, "migrator"))
		if err := migrator.Run(); err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations completed successfully", "dialect", string(dbClient.Dialect()))
		stores = dbClient
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		stores = store.NewMemoryStore()
	}

	// Provider and Supabase clients
	soraClient := sora.NewClient(cfg.SoraAPIBaseURL, cfg.SoraAPIKey)

	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		logger.Error("failed to initialize supabase client", "error", err)
		os.Exit(1)
	}

	storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.StorageKey(), cfg.SupabaseStorageBucket)
	if err != nil {
		logger.Error("failed to initialize storage client", "error", err)
		os.Exit(1)
	}

	hub := events.NewHub()
	realtimeClient := supabase.NewRealtimeClient(cfg.SupabaseURL, cfg.StorageKey(), logging.WithComponent(logger, "realtime"))
	live := events.NewFanout(hub, realtimeClient)

	// Services
	taskService := services.NewTaskService(services.TaskServiceDeps{
		Stores:              stores,
		Provider:            soraClient,
		Storage:             storageClient,
		Live:                live,
		Tuning:              cfg.Tuning,
		Model:               cfg.SoraModel,
		CharacterTimestamps: cfg.SoraCharacterTimestamps,
		Logger:              logging.WithComponent(logger, "tasks"),
	})
	characterFlow := services.NewCharacterFlow(taskService, logging.WithComponent(logger, "characters"))
	scheduler := services.NewScheduler(taskService, logging.WithComponent(logger, "scheduler"))
	go scheduler.Start(ctx)

	// Access control
	var whitelist middleware.WhitelistChecker = middleware.StaticWhitelist(nil)
	if cfg.WhitelistEnabled {
		checkers := middleware.AnyWhitelist{supabase.NewWhitelistClient(supabaseClient.Supabase)}
		if len(cfg.WhitelistUserIDs) > 0 {
			checkers = append(checkers, middleware.StaticWhitelist(cfg.WhitelistUserIDs))
		}
		if dbClient != nil {
			checkers = append(checkers, dbClient)
		}
		whitelist = checkers
	}

	// Handlers
	tasksHandler := handlers.NewTasksHandler(taskService)
	scenesHandler := handlers.NewScenesHandler(taskService.Rollup(), stores)
	charactersHandler := handlers.NewCharactersHandler(characterFlow)
	eventsHandler := handlers.NewEventsHandler(hub)
	cronHandler := handlers.NewCronHandler(scheduler)
	adminHandler := handlers.NewAdminHandler(taskService)
	webhookHandler := handlers.NewWebhookHandler(cfg, taskService, logging.WithComponent(logger, "webhook"))

	// Setup router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)

	// API routes
	api := router.Group("/api/v1")
	user := api.Group("")
	user.Use(middleware.AuthMiddleware(cfg))
	user.Use(middleware.WhitelistMiddleware(whitelist, logger))

	// Tasks
	user.POST("/sora/tasks", tasksHandler.Submit)
	user.POST("/sora/tasks/batch-status", tasksHandler.BatchStatus)
	user.GET("/sora/tasks/:task_id", tasksHandler.Refresh)

	// Scenes
	user.GET("/scenes/:scene_id/sora-status", scenesHandler.SoraStatus)

	// Characters
	user.GET("/characters/:character_id/sora-identity", charactersHandler.GetIdentity)
	user.POST("/characters/:character_id/sora-identity", charactersHandler.StartIdentity)
	user.PUT("/characters/:character_id/sora-identity/username", charactersHandler.SetUsername)
	user.GET("/characters/:character_id/sora-identity/watch", charactersHandler.WatchIdentity)

	// Live view
	user.GET("/projects/:project_id/events", eventsHandler.Stream)

	// Admin
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(cfg))
	admin.Use(middleware.AdminMiddleware(cfg.AdminUserIDs))
	admin.POST("/sora-repair", adminHandler.Repair)

	// Cron (shared secret)
	api.POST("/cron/sora-sweep", middleware.CronSecretMiddleware(cfg.CronSecret), cronHandler.Sweep)

	// Webhook (no auth, uses token)
	api.POST("/webhooks/sora", webhookHandler.HandleWebhook)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
