package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fable-server/internal/ai"
	"fable-server/internal/choices"
	"fable-server/internal/config"
	"fable-server/internal/database"
	"fable-server/internal/handler"
	"fable-server/internal/logger"
	"fable-server/internal/middleware"
	"fable-server/internal/narrative"
	"fable-server/internal/repository"
	"fable-server/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"
)

func main() {
	// .env is optional, real deployments set environment variables directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Progress hub: model load milestones stream to connected clients.
	wsLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	hub := ws.NewHub(wsLogger)
	go hub.Run(ctx)

	client, err := ai.NewClient(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to create AI client", zap.Error(err))
	}
	session := ai.NewSession(client, cfg.AIPromptTokenBudget, hub.Publish, appLogger)

	states := buildStateRepository(ctx, cfg, appLogger)
	history := buildHistoryRepository(ctx, cfg, appLogger)

	engine := narrative.NewEngine(session, choices.NewExtractor(appLogger), appLogger)

	storyHandler := handler.NewStoryHandler(
		engine, session, states, history,
		cfg.AILoadAttempts, cfg.AILoadRetryDelay, appLogger,
	)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ZapLogging(appLogger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	prom := ginprometheus.NewPrometheus("gin")
	prom.Use(router)

	storyHandler.RegisterRoutes(router, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		appLogger.Info("Server starting", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Graceful shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// buildStateRepository prefers Redis so summaries survive restarts, and
// degrades to process memory when Redis is unreachable. Persistence is an
// optimization here, never a hard dependency.
func buildStateRepository(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) repository.StateRepository {
	if cfg.RedisAddr == "" {
		appLogger.Info("Redis not configured, using in-memory session state")
		return repository.NewMemoryStateRepository()
	}
	redisClient, err := database.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, appLogger)
	if err != nil {
		appLogger.Warn("Redis unavailable, falling back to in-memory session state", zap.Error(err))
		return repository.NewMemoryStateRepository()
	}
	return repository.NewRedisStateRepository(redisClient, appLogger)
}

// buildHistoryRepository wires segment archival when enabled. Failure to
// connect or migrate disables archival rather than blocking startup.
func buildHistoryRepository(ctx context.Context, cfg *config.Config, appLogger *zap.Logger) repository.HistoryRepository {
	if !cfg.HistoryPersistenceEnabled {
		return nil
	}
	pool, err := database.NewPostgresPool(ctx, cfg.GetDSN(), cfg.DBMaxConns, cfg.DBIdleTimeout, appLogger)
	if err != nil {
		appLogger.Warn("PostgreSQL unavailable, segment history disabled", zap.Error(err))
		return nil
	}
	if err := database.MigrateUp(pool, appLogger); err != nil {
		appLogger.Warn("Migrations failed, segment history disabled", zap.Error(err))
		pool.Close()
		return nil
	}
	return repository.NewPgHistoryRepository(pool, appLogger)
}
