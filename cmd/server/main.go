package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mdlive/internal/api"
	"mdlive/internal/config"
	"mdlive/internal/db"
	"mdlive/internal/repository"
	"mdlive/internal/services/presence"
	"mdlive/internal/telemetry"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	jaegerShutdown, err := telemetry.InitJaeger("mdlive", cfg.JaegerEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("jaeger init failed, continuing without tracing")
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("jaeger shutdown")
		}
	}()

	database, err := db.NewGorm(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer database.Close()
	logger.Info().Msg("database connected")

	fileRepo := repository.NewFileRepository(database.DB)
	libraryRepo := repository.NewLibraryRepository(database.DB)

	roomManager := presence.NewRoomManager(logger)
	roomManager.Start()
	defer roomManager.Shutdown()

	channelHandler := presence.NewHandler(roomManager, logger)

	handler := api.NewHandler(fileRepo, libraryRepo, logger, cfg.PublicBaseURL, cfg.AccessTokenTTL)
	router := api.SetupRoutes(handler, channelHandler.HandleChannel, logger)

	// Housekeeping: drop expired access tokens so the table stays bounded.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	go pruneTokens(pruneCtx, fileRepo, logger)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(lvl).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func pruneTokens(ctx context.Context, files *repository.FileRepositoryImpl, logger zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := files.PruneExpiredTokens(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("token prune failed")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("pruned", n).Msg("expired tokens removed")
			}
		}
	}
}
