// Copyright 2026 The Gavel Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/gavel-foundation/gavel/lib/clock"
	"github.com/gavel-foundation/gavel/lib/config"
	"github.com/gavel-foundation/gavel/stream"
)

// shutdownGrace bounds how long draining HTTP connections may hold up
// process exit.
const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gavel-streamd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		logLevel   string
	)
	pflag.StringVar(&configPath, "config", "", "path to gavel.yaml (defaults to $GAVEL_CONFIG)")
	pflag.StringVar(&listen, "listen", "", "override server.listen_address")
	pflag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.ListenAddress = listen
	}

	store, err := stream.OpenSQLiteStore(cfg.Storage.Path, cfg.Storage.PoolSize, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	service, err := stream.NewService(stream.ServiceConfig{
		Config:    cfg,
		Store:     store,
		Directory: stream.NewLogDirectory(store),
		Clock:     clock.Real(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	server := newStreamServer(service, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: server.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpServer.ListenAndServe()
	}()
	logger.Info("gavel-streamd running",
		"listen", cfg.Server.ListenAddress,
		"storage", cfg.Storage.Path,
		"session_policy", cfg.Stream.SessionPolicy,
	)

	select {
	case err := <-serveDone:
		service.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	// Drain order: stop accepting, retire sessions (which flushes
	// their pumps and closes their sockets), then the store via defer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	service.Close()

	if err := <-serveDone; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// loadConfig resolves the configuration: explicit flag first, then the
// GAVEL_CONFIG environment variable, then built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("GAVEL_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}
