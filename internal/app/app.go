// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — external connections (Redis, when cache.mode=redis)
//  2. initServices  — metrics registry, alerter, token manager, forwarder
//  3. initGateway   — webhook ingress server
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	npCache "github.com/nulpointcorp/permata-webhook-gateway/internal/cache"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logging"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/metrics"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/webhook"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/alert"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/forwarder"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logger"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/token"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	memCache *npCache.MemoryCache
	backing  npCache.Cache

	prom    *metrics.Registry
	alerter *alert.Alerter
	audit   *logger.Logger
	tokens  *token.Manager
	fwd     *forwarder.Forwarder
	server  *webhook.Server
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := net.JoinHostPort(a.cfg.Server.ListenHost, fmt.Sprintf("%d", a.cfg.Server.ListenPort))

	a.log.Info("starting webhook gateway",
		append(logging.RequestAttrs("", ""),
			slog.String("version", a.version),
			slog.String("addr", addr),
			slog.String("cache_mode", a.cfg.Cache.Mode),
			slog.String("webhook_path", a.cfg.Server.WebhookPath),
		)...,
	)

	srv := &fasthttp.Server{
		Handler:      a.server.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		_ = srv.Shutdown()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources, stopping the token manager before the
// alerter it reports to. Safe to call more than once in sequence; calls are
// not synchronized with each other.
func (a *App) Close() {
	if a.tokens != nil {
		a.tokens.Shutdown()
		a.tokens = nil
	}
	if a.alerter != nil {
		a.alerter.Shutdown()
		a.alerter = nil
	}
	if a.audit != nil {
		_ = a.audit.Close()
		a.audit = nil
	}
	if a.memCache != nil {
		a.memCache.Close()
		a.memCache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error",
				append(logging.RequestAttrs("", ""), slog.String("error", err.Error()))...)
		}
		a.rdb = nil
	}
}

// ── Private helpers ──────────────────────────────────────────────────────────

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}
