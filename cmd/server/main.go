package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/fingermesh/accesshub/internal/commands"
	"github.com/fingermesh/accesshub/internal/config"
	"github.com/fingermesh/accesshub/internal/database"
	"github.com/fingermesh/accesshub/internal/handlers"
	"github.com/fingermesh/accesshub/internal/hub"
	"github.com/fingermesh/accesshub/internal/ingest"
	"github.com/fingermesh/accesshub/internal/presence"
	"github.com/fingermesh/accesshub/internal/repositories"
	"github.com/fingermesh/accesshub/internal/services"
	"github.com/fingermesh/accesshub/internal/template"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	// Storage
	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create postgres pool")
	}
	defer postgresPool.Close()

	if err := database.Migrate(ctx, postgresPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create redis client")
	}
	defer redisClient.Close()

	// Repositories and services
	deviceRepo := repositories.NewPostgresDeviceRepository(postgresPool)
	userRepo := repositories.NewPostgresUserRepository(postgresPool)
	accessLogRepo := repositories.NewPostgresAccessLogRepository(postgresPool)
	systemLogRepo := repositories.NewPostgresSystemLogRepository(postgresPool)

	tracker := presence.NewTracker()
	syncService := services.NewSyncService(deviceRepo, userRepo, accessLogRepo, systemLogRepo, logger)
	authService := services.NewAuthService(cfg.AdminPasswordHash, cfg.JWTSecret, cfg.JWTExpiry)
	templateStore := template.NewStore(redisClient)

	// Broadcast hub
	broadcastHub := hub.NewHub(logger, handlers.NewSnapshotFunc(syncService, tracker, logger))
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go broadcastHub.Run(hubCtx)

	// Ingestion pipeline and MQTT transport
	pipeline := ingest.NewPipeline(tracker, syncService, broadcastHub, logger)
	defer pipeline.Close()

	consumer := ingest.NewConsumer(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTNamespace, pipeline.Handle, logger)
	if err := consumer.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to mqtt broker")
	}
	defer consumer.Disconnect()

	queue := commands.NewQueue(cfg.MQTTNamespace, consumer, systemLogRepo, logger)

	// HTTP server
	handler := handlers.New(authService, syncService, queue, tracker, templateStore, broadcastHub, cfg.TemplatePageThreshold, logger)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	handler.Register(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("port", cfg.ServerPort).Msg("starting server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}

	logger.Info().Msg("server stopped gracefully")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}
