// Package main - REST API движка серий.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/streak-engine/config"
	"github.com/alem-hub/streak-engine/internal/app"
	httpapi "github.com/alem-hub/streak-engine/internal/interface/http"
	"github.com/alem-hub/streak-engine/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.LoggerOptions()).Named("api")
	defer func() { _ = log.Sync() }()

	log.Info("starting streak engine API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("addr", cfg.HTTP.Addr),
	)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	serverCfg := httpapi.DefaultConfig()
	serverCfg.Addr = cfg.HTTP.Addr
	serverCfg.GinMode = cfg.HTTP.GinMode
	serverCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout

	server := httpapi.NewServer(serverCfg, httpapi.Dependencies{
		Engine:   a.Engine,
		Health:   a.Health,
		Clock:    a.Clock,
		Location: cfg.App.Location,
		Logger:   log,
	})
	errCh := server.StartAsync()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("shutdown completed successfully")
	return nil
}
