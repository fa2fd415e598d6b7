package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/open-exam/exam-engine/internal/config"
	"github.com/open-exam/exam-engine/internal/events"
	"github.com/open-exam/exam-engine/internal/handlers"
	"github.com/open-exam/exam-engine/internal/repositories/postgres"
	"github.com/open-exam/exam-engine/internal/services"
	"github.com/open-exam/exam-engine/internal/utils"
	"github.com/open-exam/exam-engine/internal/validator"
	"github.com/open-exam/exam-engine/pkg"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Structured JSON logging
	slogLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(slogLogger)
	logger := utils.NewSlogLogger(slogLogger)

	// Database
	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		slogLogger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	// Redis (optional; repository caching degrades gracefully without it)
	repoConfig := postgres.RepositoryConfig{DB: db}
	if cfg.RedisURL != "" {
		redisClient, err := pkg.NewRedisClient(cfg)
		if err != nil {
			slogLogger.Error("Failed to connect to redis", "error", err)
			os.Exit(1)
		}
		repoConfig.RedisClient = redisClient
	}

	// Repositories
	repoManager := postgres.NewRepositoryManager(repoConfig)
	if err := repoManager.Initialize(); err != nil {
		slogLogger.Error("Failed to initialize repositories", "error", err)
		os.Exit(1)
	}
	repo := repoManager.GetRepository()

	// Validation
	v := validator.New()

	// Event publisher: Kafka when brokers are configured, in-memory otherwise
	var publisher events.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err = events.NewKafkaEventPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, slogLogger)
		if err != nil {
			slogLogger.Error("Failed to create kafka publisher", "error", err)
			os.Exit(1)
		}
		slogLogger.Info("Kafka event publisher connected",
			"brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		publisher = events.NewMockEventPublisher(slogLogger)
		slogLogger.Warn("KAFKA_BROKERS not set, events will not leave the process")
	}

	// Services
	serviceManager := services.NewDefaultServiceManager(db, repo, slogLogger, v, publisher, cfg.SweepInterval)
	if err := serviceManager.Initialize(context.Background()); err != nil {
		slogLogger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	// HTTP layer
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	handlers.SetupMiddleware(router, logger)

	handlerManager := handlers.NewHandlerManager(serviceManager, v, logger)
	handlerManager.SetupRoutes(router)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slogLogger.Info("Starting exam engine", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogLogger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogLogger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slogLogger.Error("Server shutdown failed", "error", err)
	}

	if err := serviceManager.Shutdown(ctx); err != nil {
		slogLogger.Error("Service shutdown failed", "error", err)
	}

	slogLogger.Info("Shutdown complete")
}
