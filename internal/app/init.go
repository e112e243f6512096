package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	npCache "github.com/nulpointcorp/permata-webhook-gateway/internal/cache"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logging"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/metrics"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/webhook"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/alert"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/forwarder"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logger"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/token"
)

// initInfra establishes the token cache backend. Redis is only required
// when cache.mode=redis. The in-process MemoryCache is created in every
// mode but is the token manager's backing store only in memory mode.
func (a *App) initInfra(ctx context.Context) error {
	a.memCache = npCache.NewMemoryCache(ctx)

	switch a.cfg.Cache.Mode {
	case "redis":
		a.log.Info("connecting to redis",
			append(logging.RequestAttrs("", ""), slog.String("url", redactURL(a.cfg.Redis.URL)))...)

		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.backing = npCache.NewExactCacheFromClient(rdb)
		a.log.Info("cache backend: redis", logging.RequestAttrs("", "")...)

	case "memory":
		a.backing = a.memCache
		a.log.Info("cache backend: memory (in-process)", logging.RequestAttrs("", "")...)

	default:
		return fmt.Errorf("unknown cache mode: %s", a.cfg.Cache.Mode)
	}

	return nil
}

// initServices builds the metrics registry, alerter, token manager, and
// signed forwarder, in that dependency order.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	a.alerter = alert.New(
		a.cfg.TelegramAlert,
		&http.Client{Timeout: a.cfg.WebClient.Timeout},
		a.log,
		a.prom,
	)

	a.tokens = token.New(
		a.cfg.PermataLogin,
		a.cfg.WebClient,
		a.cfg.TokenScheduler,
		a.backing,
		a.alerter,
		a.prom,
		a.log,
	)

	a.fwd = forwarder.New(
		a.cfg.PermataLogin,
		a.cfg.PermataWebhook,
		a.cfg.WebClient,
		a.tokens,
		a.alerter,
		a.prom,
		a.log,
	)

	audit, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}
	a.audit = audit

	return nil
}

// initGateway builds the webhook ingress server wired to the forwarder,
// alerter, metrics registry, and token scheduler.
func (a *App) initGateway(_ context.Context) error {
	a.server = webhook.New(
		a.cfg.Server,
		a.cfg.Metrics.Enabled,
		a.fwd,
		a.alerter,
		a.prom,
		a.tokens,
		a.audit,
		a.log,
	)
	return nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
