package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Fidelis900/crown-commune/internal/api"
	"github.com/Fidelis900/crown-commune/internal/backend"
	"github.com/Fidelis900/crown-commune/internal/chat"
	"github.com/Fidelis900/crown-commune/internal/config"
	"github.com/Fidelis900/crown-commune/internal/handlers"
	"github.com/Fidelis900/crown-commune/internal/metrics"
	"github.com/Fidelis900/crown-commune/internal/remote"
	"github.com/Fidelis900/crown-commune/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize durable store: Postgres when configured, SQLite otherwise
	var data store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("running database migrations...")
		if err := pgStore.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		data = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		data = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer data.Close()

	if err := store.SeedChannels(ctx, data); err != nil {
		logger.Fatal().Err(err).Msg("channel seed failed")
	}

	// Initialize Redis store
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL,
		store.WithPresenceTTL(cfg.PresenceTTL),
		store.WithMessageRetention(cfg.MessageRetention),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// Wire the backend: stores, then metrics, then per-call timeouts
	be := backend.New(data, redisStore, logger, backend.WithTypingExpiry(cfg.TypingExpiry))
	defer be.Close()
	rem := remote.WithTimeout(metrics.InstrumentRemote(be), cfg.RemoteTimeout)

	// Start the session
	profiles := chat.NewProfileCache(rem, logger)
	noticeLog := logger.With().Str("component", "notices").Logger()
	session := chat.New(rem, chat.Config{
		UserID:        cfg.UserID,
		WindowSize:    cfg.WindowSize,
		EventTimeout:  cfg.RemoteTimeout,
		Heartbeat:     cfg.PresenceHeartbeat,
		TypingExpiry:  cfg.TypingExpiry,
		TypingCleanup: cfg.TypingCleanup,
	}, logger,
		chat.WithProfileCache(profiles),
		chat.WithNotices(func(n chat.Notice) {
			noticeLog.Info().Str("kind", string(n.Kind)).Str("code", n.Code).Msg(n.Message)
		}),
	)
	if err := session.Start(ctx); err != nil {
		logger.Fatal().Err(err).Str("user_id", cfg.UserID).Msg("session start failed")
	}

	// Create router
	h := handlers.NewHandler(session, profiles, data, redisStore)
	router := api.NewRouter(logger, h, redisStore, api.Options{
		Token:       cfg.BridgeToken,
		CORSOrigins: cfg.CORSOrigins,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("user_id", cfg.UserID).
			Msg("starting Kingdom Chat bridge")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	// Announce offline and release every subscription
	session.Close(shutdownCtx)

	logger.Info().Msg("server stopped")
}
