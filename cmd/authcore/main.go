// Command authcore serves the identity API over HTTP, Prometheus metrics on
// /metrics and a token-guarded gRPC health service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/panyam/authcore/config"
	"github.com/panyam/authcore/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	log.Info("starting authcore",
		slog.String("environment", cfg.AppEnv),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr),
		slog.String("store", cfg.StoreDriver),
		slog.String("delivery", cfg.DeliveryDriver),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("authcore stopped")
}
