package token

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/alert"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
)

func TestExpiryWithMarginSubtractsSafety(t *testing.T) {
	got := expiryWithMargin(3600)
	want := 3600*time.Second - safetyMargin
	if got != want {
		t.Fatalf("expiryWithMargin(3600) = %v, want %v", got, want)
	}
}

func TestExpiryWithMarginNeverNegative(t *testing.T) {
	got := expiryWithMargin(60)
	if got < 0 {
		t.Fatalf("expiryWithMargin(60) = %v, want >= 0", got)
	}
	if got != 0 {
		t.Fatalf("expiryWithMargin(60) = %v, want 0 (margin exceeds expiry)", got)
	}
}

func TestFormatJakartaTimestampHasFixedOffset(t *testing.T) {
	ts := formatJakartaTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if len(ts) < len("2026-01-01T07:00:00.000+07:00") {
		t.Fatalf("unexpected timestamp shape: %q", ts)
	}
	if got, want := ts[len(ts)-6:], "+07:00"; got != want {
		t.Fatalf("timestamp suffix = %q, want %q", got, want)
	}
}

func TestFormatJakartaTimestampConvertsUTCMidnight(t *testing.T) {
	// UTC midnight is 07:00 in WIB (+7).
	ts := formatJakartaTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if ts[11:13] != "07" {
		t.Fatalf("expected hour 07 in WIB, got timestamp %q", ts)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager builds a Manager directly (bypassing New/startScheduler) so
// tests can drive getToken/loginWithRetry deterministically without a
// background refresher goroutine racing the test's own assertions.
func newTestManager(url string, maxRetries int) *Manager {
	return &Manager{
		cfg: config.PermataLoginConfig{
			PermataStaticKey: "static-key",
			APIKey:           "api-key",
			TokenURL:         url,
			Username:         "user",
			Password:         "pass",
			LoginPayload:     "grant_type=client_credentials",
		},
		webCfg: config.WebClientConfig{
			Timeout:    time.Second,
			MaxRetries: maxRetries,
			RetryDelay: time.Millisecond,
		},
		schedCfg:   config.TokenSchedulerConfig{PeriodicIntervalMins: 1440},
		httpClient: &http.Client{Timeout: time.Second},
		alerter:    alert.New(config.TelegramAlertConfig{}, &http.Client{Timeout: time.Second}, testLogger(), nil),
		log:        testLogger(),
	}
}

const validLoginBody = `{"access_token":"tok-x","token_type":"Bearer","expires_in":3600,"scope":"read"}`

func TestGetTokenUsesCachedValueWithoutLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("login endpoint should not be hit when the cache is valid")
	}))
	defer srv.Close()

	m := newTestManager(srv.URL, 1)
	m.local = &cachedToken{Token: "cached-tok", ExpiresAt: time.Now().Add(time.Hour)}

	tok, err := m.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if tok != "cached-tok" {
		t.Errorf("GetToken() = %q, want cached-tok", tok)
	}
}

func TestGetTokenLoginsWhenCacheExpired(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(validLoginBody))
	}))
	defer srv.Close()

	m := newTestManager(srv.URL, 1)
	m.local = &cachedToken{Token: "stale-tok", ExpiresAt: time.Now().Add(-time.Minute)}

	tok, err := m.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if tok != "tok-x" {
		t.Errorf("GetToken() = %q, want tok-x", tok)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("login endpoint hit %d times, want 1", hits)
	}
	if m.local == nil || !m.local.ExpiresAt.After(time.Now()) {
		t.Error("expected the fresh token to be cached with a future expiry")
	}
}

func TestGetTokenMaxRetriesOneStopsAfterSingleAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	m := newTestManager(srv.URL, 1)

	_, err := m.GetToken(context.Background())
	if err == nil {
		t.Fatal("expected an error from a failing login endpoint")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("login endpoint hit %d times, want exactly 1 (max_retries=1)", got)
	}
}

func TestLoginWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"try again"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(validLoginBody))
	}))
	defer srv.Close()

	m := newTestManager(srv.URL, 3)

	tok, err := m.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if tok != "tok-x" {
		t.Errorf("GetToken() = %q, want tok-x", tok)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("login endpoint hit %d times, want 3 (2 failures + 1 success)", got)
	}
}

func TestClearCacheForcesRelogin(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(validLoginBody))
	}))
	defer srv.Close()

	m := newTestManager(srv.URL, 1)
	m.local = &cachedToken{Token: "cached-tok", ExpiresAt: time.Now().Add(time.Hour)}

	m.ClearCache()

	tok, err := m.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if tok != "tok-x" {
		t.Errorf("GetToken() = %q, want tok-x (fresh login after ClearCache)", tok)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("login endpoint hit %d times, want 1", got)
	}
}
