// Package forwarder implements the signed HTTP forwarder that relays
// classified webhook payloads to the bank's callback-status endpoint.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/alert"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logging"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/metrics"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/signer"
	"github.com/nulpointcorp/permata-webhook-gateway/pkg/apierr"
)

// TokenProvider is the seam the forwarder depends on for bearer tokens.
// internal/token.Manager satisfies this.
type TokenProvider interface {
	GetToken(ctx context.Context) (string, error)
}

// ForwardResult is the bank's response, returned verbatim to the ingress
// adapter — the gateway is a transparent proxy except for forwarder-internal
// errors.
type ForwardResult struct {
	Status int
	Body   string
}

// Forwarder signs and relays a webhook body to the bank's callback-status
// endpoint, retrying on transport failures.
type Forwarder struct {
	cfg        config.PermataLoginConfig
	webhookCfg config.PermataWebhookConfig
	webCfg     config.WebClientConfig
	tokens     TokenProvider
	httpClient *http.Client
	alerter    *alert.Alerter
	metrics    *metrics.Registry
	log        *slog.Logger
}

// New builds a Forwarder.
func New(
	cfg config.PermataLoginConfig,
	webhookCfg config.PermataWebhookConfig,
	webCfg config.WebClientConfig,
	tokens TokenProvider,
	alerter *alert.Alerter,
	reg *metrics.Registry,
	log *slog.Logger,
) *Forwarder {
	return &Forwarder{
		cfg:        cfg,
		webhookCfg: webhookCfg,
		webCfg:     webCfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: webCfg.Timeout},
		alerter:    alerter,
		metrics:    reg,
		log:        log,
	}
}

// Forward signs bodyText and relays it to the bank's callback-status
// endpoint, retrying on transport errors only.
func (f *Forwarder) Forward(ctx context.Context, bodyText, requestID, correlationID string) (*ForwardResult, error) {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= f.webCfg.MaxRetries; attempt++ {
		result, err := f.attempt(ctx, bodyText, correlationID)
		if err == nil {
			f.observeOutcome("success", start)
			return result, nil
		}

		lastErr = err

		if !apierr.IsRetryable(err) {
			f.observeOutcome(outcomeFor(err), start)
			return nil, err
		}

		f.alerter.SendErrorAlert(
			fmt.Sprintf("forward attempt %d/%d failed: %s", attempt, f.webCfg.MaxRetries, err.Error()),
			correlationID,
		)

		if attempt < f.webCfg.MaxRetries {
			if f.metrics != nil {
				f.metrics.IncForwardRetry()
			}
			f.log.Warn("forward attempt failed, retrying",
				append(logging.RequestAttrs(correlationID, requestID),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)...,
			)
			select {
			case <-time.After(f.webCfg.RetryDelay):
			case <-ctx.Done():
				f.observeOutcome("transport_error", start)
				return nil, ctx.Err()
			}
		}
	}

	f.observeOutcome("transport_error", start)
	return nil, lastErr
}

func outcomeFor(err error) string {
	if apierr.IsAuthenticationError(err) {
		return "auth_failed"
	}
	return "upstream_error"
}

func (f *Forwarder) observeOutcome(outcome string, start time.Time) {
	if f.metrics != nil {
		f.metrics.ObserveForward(outcome, time.Since(start))
	}
}

// attempt performs exactly one sign-and-send cycle.
func (f *Forwarder) attempt(ctx context.Context, bodyText, correlationID string) (*ForwardResult, error) {
	token, err := f.tokens.GetToken(ctx)
	if err != nil {
		f.alerter.SendErrorAlert(fmt.Sprintf("forward: login failed: %s", err.Error()), correlationID)
		return nil, apierr.Wrap(apierr.KindAuthenticationFailed, "forward: get token", err)
	}

	timestamp := formatJakartaTimestamp(time.Now())

	compacted, err := compactJSON(bodyText)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindPayloadConversion, "forward: compact body", err)
	}

	signature, err := signer.Sign(f.cfg.PermataStaticKey, token, timestamp, compacted)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHmac, "forward: sign body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookCfg.CallbackStatusURL,
		bytes.NewReader([]byte(bodyText)))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTPTransport, "forward: build request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("permata-signature", signature)
	req.Header.Set("organizationname", f.webhookCfg.OrganizationName)
	req.Header.Set("permata-timestamp", timestamp)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTPTransport, "forward: request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindHTTPTransport, "forward: read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.alerter.SendErrorAlert(
			fmt.Sprintf("forward: bank returned %d: %s", resp.StatusCode, string(body)),
			correlationID,
		)
	}

	return &ForwardResult{Status: resp.StatusCode, Body: string(body)}, nil
}

// compactJSON re-serializes data through a structural encoding/json round
// trip, stripping insignificant whitespace without touching string content.
func compactJSON(data string) (string, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// formatJakartaTimestamp formats t in the bank's required
// YYYY-MM-DDTHH:MM:SS.sss+07:00 form, regardless of t's original location.
func formatJakartaTimestamp(t time.Time) string {
	jakarta := time.FixedZone("WIB", 7*60*60)
	return t.In(jakarta).Format("2006-01-02T15:04:05.000") + "+07:00"
}
