// v2
// cmd/dashboard/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/app"
	"github.com/manyamule/WCEHackathon2025-Introspectors/internal/config"
)

func main() {
	bootstrap := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("config_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		bootstrap.Error("app_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("app_close_failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("atmos_base_url", cfg.AtmosBaseURL),
		slog.String("default_site", cfg.DefaultSiteID),
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Int("window_size", cfg.WindowSize),
		slog.Bool("alerts_enabled", cfg.AlertsEnabled),
		slog.Bool("mirror_enabled", cfg.MirrorEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := application.Run(ctx); err != nil {
		logger.Error("service_terminated", slog.Any("err", err))
		os.Exit(1)
	}

	logger.Info("service_stopped", slog.Duration("uptime", time.Since(start)))
}
