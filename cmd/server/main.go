// Cadence API server: REST + realtime websocket backend for the
// outreach-sequence builder.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadencehq/cadence/internal/agent"
	"github.com/cadencehq/cadence/internal/api"
	"github.com/cadencehq/cadence/internal/cache"
	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/hub"
	"github.com/cadencehq/cadence/internal/middleware"
	"github.com/cadencehq/cadence/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var seqCache cache.SequenceCache
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(context.Background(), cfg.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := redisCache.Close(); closeErr != nil {
				slog.Error("Failed to close Redis", "error", closeErr)
			}
		}()
		seqCache = redisCache
		slog.Info("Using Redis sequence cache", "addr", cfg.RedisAddr)
	} else {
		seqCache = cache.NewMemory()
		slog.Info("Using in-memory sequence cache")
	}

	rooms := hub.NewRooms()
	effects := hub.NewEffects(rooms, repo, seqCache)

	var engine agent.Engine
	if cfg.OpenAIKey != "" {
		engine = agent.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, repo, effects)
		slog.Info("Assistant engine: OpenAI", "model", cfg.OpenAIModel)
	} else {
		engine = agent.NewTemplate(repo, effects)
		slog.Info("Assistant engine: templates (no OPENAI_API_KEY set)")
	}
	defer engine.Close()

	wsHandler := hub.NewHandler(rooms, repo, seqCache, engine, cfg.FrontendURL, cfg.IsDevelopment())
	restHandler := api.NewHandler(repo, seqCache, rooms, engine, cfg.App)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(allowedOrigins))

	restHandler.Routes(r)
	r.Handle("/ws", wsHandler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
