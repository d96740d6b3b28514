// Package main serves a built launch site for preview, locally or on Cloud Run,
// together with the launch countdown API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"launchsite/config"
	"launchsite/prerender"
	"launchsite/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	srv, err := buildServer(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Serving build", "build_dir", cfg.BuildDir, "launch_at", cfg.LaunchAt)
	return srv.ListenAndServe(ctx, cfg.Port)
}

func buildServer(cfg *config.Config, logger *slog.Logger) (*server.Server, error) {
	static, err := prerender.NewStaticHandler(cfg.BuildDir)
	if err != nil {
		return nil, fmt.Errorf("serve build directory: %w", err)
	}
	return server.New(&server.Config{
		Static:   static,
		Logger:   logger,
		LaunchAt: cfg.LaunchAt,
	}), nil
}
