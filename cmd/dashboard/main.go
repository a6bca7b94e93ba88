// cmd/dashboard/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"familymiles/internal/config"
	"familymiles/internal/server"
	"familymiles/internal/telemetry"
)

var version = "dev"

func main() {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadServer()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		cancel()
	}()

	shutdown, err := telemetry.Setup(ctx, "familymiles-dashboard", version, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to set up telemetry", "err", err)
		os.Exit(1)
	}
	defer shutdown(context.Background())

	app, err := server.Build(ctx, cfg, version, logger)
	if err != nil {
		logger.Error("failed to start", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := server.Run(ctx, ":"+cfg.Port, app.Handler, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}
