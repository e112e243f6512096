// Command gateway is the signed-webhook forwarding gateway between a
// messaging platform's delivery receipts / inbound flow events and the
// Permata bank callback-status API.
//
// Quick-start (in-process token cache, no Redis required):
//
//	APP_PERMATA_BANK_LOGIN_TOKEN_URL=... APP_PERMATA_BANK_LOGIN_PERMATA_STATIC_KEY=... ./gateway
//
// See internal/config for all available configuration keys.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/app"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logging"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration — fails closed with a descriptive error if required
	// vars are missing.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Build the structured logger. All subsystems share this instance.
	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	slog.SetDefault(logger)

	// Initialise and run the application.
	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("gateway stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
