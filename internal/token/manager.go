// Package token implements the bearer-token lifecycle for the bank's OAuth2
// login endpoint: a cached token with proactive periodic refresh, forced
// invalidation, and a retry policy around the login call itself.
package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/alert"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/cache"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logging"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/metrics"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/signer"
	"github.com/nulpointcorp/permata-webhook-gateway/pkg/apierr"
)

// cacheKey is the single logical slot every cached token lives under.
const cacheKey = "permata_bank_token"

// safetyMargin is subtracted from expires_in so a caller always sees at
// least this much runway before the token actually expires.
const safetyMargin = 5 * time.Minute

// loginResponse is the bank's token endpoint response body.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// cachedToken is the JSON form stored in the backing Cache so it survives a
// round trip through Redis when Cache.Mode == "redis".
type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager owns the cached token, the login HTTP client, and the periodic
// refresher goroutine. It implements the forwarder's TokenProvider seam.
type Manager struct {
	cfg        config.PermataLoginConfig
	webCfg     config.WebClientConfig
	schedCfg   config.TokenSchedulerConfig
	httpClient *http.Client
	backing    cache.Cache
	alerter    *alert.Alerter
	metrics    *metrics.Registry
	log        *slog.Logger

	mu    sync.Mutex
	local *cachedToken

	schedMu      sync.Mutex
	schedDone    chan struct{}
	schedStopped chan struct{}
	schedActive  bool
	closeOnce    sync.Once
}

// New builds a Manager and immediately starts its periodic refresher
// goroutine. Callers must call Shutdown to stop it.
func New(
	cfg config.PermataLoginConfig,
	webCfg config.WebClientConfig,
	schedCfg config.TokenSchedulerConfig,
	backing cache.Cache,
	alerter *alert.Alerter,
	reg *metrics.Registry,
	log *slog.Logger,
) *Manager {
	m := &Manager{
		cfg:      cfg,
		webCfg:   webCfg,
		schedCfg: schedCfg,
		httpClient: &http.Client{
			Timeout: webCfg.Timeout,
		},
		backing: backing,
		alerter: alerter,
		metrics: reg,
		log:     log,
	}
	m.startScheduler()
	return m
}

// GetToken returns the cached token if it is still valid, otherwise
// performs a login round (with retries) and caches the result.
func (m *Manager) GetToken(ctx context.Context) (string, error) {
	return m.getToken(ctx, "")
}

func (m *Manager) getToken(ctx context.Context, correlationID string) (string, error) {
	if tok, ok := m.readCache(ctx); ok {
		m.log.Debug("using cached token", logging.RequestAttrs(correlationID, correlationID)...)
		return tok, nil
	}

	resp, err := m.loginWithRetry(ctx, correlationID)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(expiryWithMargin(resp.ExpiresIn))
	m.writeCache(ctx, resp.AccessToken, expiresAt)

	return resp.AccessToken, nil
}

// expiryWithMargin returns max(expiresIn - safetyMargin, 0).
func expiryWithMargin(expiresInSeconds int64) time.Duration {
	d := time.Duration(expiresInSeconds)*time.Second - safetyMargin
	if d < 0 {
		return 0
	}
	return d
}

// ClearCache forcibly evicts the cached token. The next GetToken call logs
// in again.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.local = nil
	m.mu.Unlock()

	if m.backing != nil {
		_ = m.backing.Delete(context.Background(), cacheKey)
	}
}

func (m *Manager) readCache(ctx context.Context) (string, bool) {
	m.mu.Lock()
	local := m.local
	m.mu.Unlock()

	if local != nil && local.ExpiresAt.After(time.Now()) {
		return local.Token, true
	}

	if m.backing == nil {
		return "", false
	}

	raw, ok := m.backing.Get(ctx, cacheKey)
	if !ok {
		return "", false
	}

	var ct cachedToken
	if err := json.Unmarshal(raw, &ct); err != nil {
		return "", false
	}
	if !ct.ExpiresAt.After(time.Now()) {
		return "", false
	}

	m.mu.Lock()
	m.local = &ct
	m.mu.Unlock()

	return ct.Token, true
}

func (m *Manager) writeCache(ctx context.Context, token string, expiresAt time.Time) {
	ct := &cachedToken{Token: token, ExpiresAt: expiresAt}

	m.mu.Lock()
	m.local = ct
	m.mu.Unlock()

	if m.backing == nil {
		return
	}
	raw, err := json.Marshal(ct)
	if err != nil {
		return
	}
	_ = m.backing.Set(ctx, cacheKey, raw, time.Until(expiresAt))
}

// loginWithRetry performs the login round, retrying up to MaxRetries times
// with RetryDelay between attempts. Every failed attempt also dispatches an
// alert.
func (m *Manager) loginWithRetry(ctx context.Context, correlationID string) (*loginResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= m.webCfg.MaxRetries; attempt++ {
		resp, err := m.login(ctx)
		if err == nil {
			if m.metrics != nil {
				m.metrics.IncTokenLoginSuccess()
			}
			m.log.Info("login successful",
				append(logging.RequestAttrs(correlationID, correlationID), slog.Int("attempt", attempt))...)
			return resp, nil
		}

		lastErr = err
		if m.metrics != nil {
			m.metrics.IncTokenLoginFailure()
		}
		m.alerter.SendErrorAlert(err.Error(), correlationID)

		if attempt < m.webCfg.MaxRetries {
			m.log.Warn("login attempt failed, retrying",
				append(logging.RequestAttrs(correlationID, correlationID),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)...,
			)
			select {
			case <-time.After(m.webCfg.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		m.log.Error("all login attempts failed",
			append(logging.RequestAttrs(correlationID, correlationID), slog.String("error", err.Error()))...)
	}

	return nil, lastErr
}

// login performs a single login attempt against the bank's token endpoint.
func (m *Manager) login(ctx context.Context) (*loginResponse, error) {
	timestamp := formatJakartaTimestamp(time.Now())

	signature, err := signer.Sign(m.cfg.PermataStaticKey, m.cfg.APIKey, timestamp, m.cfg.LoginPayload)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHmac, "login: sign request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL,
		strings.NewReader(m.cfg.LoginPayload))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTPTransport, "login: build request", err)
	}

	authHeader := "Basic " + base64.StdEncoding.EncodeToString([]byte(m.cfg.Username+":"+m.cfg.Password))
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("OAUTH-Signature", signature)
	req.Header.Set("OAUTH-Timestamp", timestamp)
	req.Header.Set("API-Key", m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTPTransport, "login: request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTPTransport, "login: read response", err)
	}

	if resp.StatusCode >= 400 {
		return nil, apierr.New(apierr.KindAuthenticationFailed,
			fmt.Sprintf("login failed: %d - %s", resp.StatusCode, string(body)))
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return nil, apierr.Wrap(apierr.KindSerialization, "login: decode response", err)
	}

	return &lr, nil
}

// formatJakartaTimestamp formats t in the bank's required
// YYYY-MM-DDTHH:MM:SS.sss+07:00 form, regardless of t's original location.
func formatJakartaTimestamp(t time.Time) string {
	jakarta := time.FixedZone("WIB", 7*60*60)
	return t.In(jakarta).Format("2006-01-02T15:04:05.000") + "+07:00"
}

// startScheduler launches the periodic refresher goroutine. Starting a new
// scheduler stops any previous one first — mirrors the teacher's
// healthchecker done-channel pattern generalized from a fixed health probe
// interval to the configured token_scheduler.periodic_interval_mins.
func (m *Manager) startScheduler() {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()

	m.stopSchedulerLocked()

	done := make(chan struct{})
	stopped := make(chan struct{})
	m.schedDone = done
	m.schedStopped = stopped
	m.schedActive = true

	interval := time.Duration(m.schedCfg.PeriodicIntervalMins) * time.Minute

	go m.runScheduler(done, stopped, interval)
}

func (m *Manager) runScheduler(done, stopped chan struct{}, interval time.Duration) {
	defer close(stopped)

	m.log.Info("starting periodic token refresh scheduler",
		append(logging.RequestAttrs(schedulerID, schedulerID), slog.Duration("interval", interval))...)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.refreshTick()

	for {
		select {
		case <-ticker.C:
			m.refreshTick()
		case <-done:
			m.log.Info("periodic token refresh scheduler stopped", logging.RequestAttrs(schedulerID, schedulerID)...)
			return
		}
	}
}

// schedulerID tags every log line emitted by the periodic refresher, so it
// is distinguishable from request-scoped and MAIN-scoped lines.
const schedulerID = "scheduler"

func (m *Manager) refreshTick() {
	m.log.Info("periodic token refresh triggered", logging.RequestAttrs(schedulerID, schedulerID)...)
	m.ClearCache()

	ctx, cancel := context.WithTimeout(context.Background(), m.webCfg.Timeout*time.Duration(m.webCfg.MaxRetries+1))
	defer cancel()

	if _, err := m.getToken(ctx, schedulerID); err != nil {
		m.log.Error("periodic token refresh failed",
			append(logging.RequestAttrs(schedulerID, schedulerID), slog.String("error", err.Error()))...)
		if m.metrics != nil {
			m.metrics.IncTokenRefreshFailure()
		}
		return
	}
	m.log.Info("periodic token refresh completed successfully", logging.RequestAttrs(schedulerID, schedulerID)...)
	if m.metrics != nil {
		m.metrics.IncTokenRefreshSuccess()
	}
}

// stopSchedulerLocked stops the running scheduler, if any. Caller must hold
// schedMu.
func (m *Manager) stopSchedulerLocked() {
	if !m.schedActive {
		return
	}
	close(m.schedDone)
	<-m.schedStopped
	m.schedActive = false
}

// SchedulerActive reports whether the periodic refresher is currently
// running.
func (m *Manager) SchedulerActive() bool {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	return m.schedActive
}

// SchedulerInfo returns a human-readable description of the scheduler state,
// or ("", false) when it is not running.
func (m *Manager) SchedulerInfo() (string, bool) {
	if !m.SchedulerActive() {
		return "", false
	}
	return fmt.Sprintf("periodic token refresh scheduler active (interval: %d minutes)",
		m.schedCfg.PeriodicIntervalMins), true
}

// Shutdown stops the periodic refresher. Idempotent and safe to call more
// than once.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		m.schedMu.Lock()
		defer m.schedMu.Unlock()
		m.stopSchedulerLocked()
	})
}
