package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/foundry/contentsync/internal/adapters/auth"
	"github.com/foundry/contentsync/internal/adapters/metadata"
	"github.com/foundry/contentsync/internal/adapters/storage"
	"github.com/foundry/contentsync/internal/api/handlers"
	"github.com/foundry/contentsync/internal/config"
	"github.com/foundry/contentsync/internal/util/logging"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to config file")
	pflag.Parse()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "contentsync").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	base, err := logging.New(os.Stdout, cfg.Log.Level)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to configure logging")
	}
	logger := base.With().Str("service", "contentsync").Logger()

	srv, closeStores, err := newServer(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize server")
	}
	defer closeStores()

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
			srv.Close()
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Str("data_dir", cfg.Storage.DataDir).
		Msg("starting contentsync server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
	<-idle
}

// newServer builds the HTTP server and its stores from cfg. The returned
// func closes the metadata store once the server has stopped.
func newServer(cfg *config.Config, logger zerolog.Logger) (*http.Server, func() error, error) {
	blobs, err := storage.NewDiskBlobStorage(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("blob storage: %w", err)
	}

	meta, err := metadata.NewSQLiteStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata store: %w", err)
	}

	authenticator := auth.NewTokenAuth(cfg.Auth.Tokens)

	handler := handlers.New(blobs, meta, authenticator, logger,
		handlers.WithVerifyWorkers(cfg.Storage.VerifyWorkers))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, meta.Close, nil
}
