// Package alert implements fire-and-forget out-of-band error notification
// to a Telegram-compatible chat API. Alert dispatch never blocks the caller
// and never propagates a delivery failure — a broken alert channel must not
// take down webhook processing.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logging"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/metrics"
)

// Alerter dispatches error notifications to the configured chat API.
// Every SendErrorAlert call spawns its own goroutine; Shutdown waits for
// all in-flight dispatches to finish before returning.
type Alerter struct {
	cfg        config.TelegramAlertConfig
	httpClient *http.Client
	log        *slog.Logger
	metrics    *metrics.Registry

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

type chatMessage struct {
	ChatID          string `json:"chat_id"`
	MessageThreadID string `json:"message_thread_id,omitempty"`
	Text            string `json:"text"`
}

// New builds an Alerter. A zero-value cfg (no APIURL) is valid: SendErrorAlert
// becomes a logged no-op, which keeps callers from needing a nil check. reg
// may be nil, in which case alert dispatch outcomes are not recorded.
func New(cfg config.TelegramAlertConfig, httpClient *http.Client, log *slog.Logger, reg *metrics.Registry) *Alerter {
	return &Alerter{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
		metrics:    reg,
		done:       make(chan struct{}),
	}
}

// SendErrorAlert dispatches an error notification in the background.
// correlationID is appended to the message when non-empty. Dispatch errors
// are logged, never returned — callers are not in a position to retry an
// alert, and the original processing error is already on its own path.
func (a *Alerter) SendErrorAlert(message, correlationID string) {
	if a.cfg.APIURL == "" {
		a.log.Debug("alert dispatch skipped: no telegram_alert.api_url configured",
			append(logging.RequestAttrs(correlationID, correlationID), slog.String("message", message))...)
		return
	}

	select {
	case <-a.done:
		return
	default:
	}

	text := a.formatMessage(message, correlationID)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		if err := a.dispatch(text); err != nil {
			a.log.Warn("alert dispatch failed",
				append(logging.RequestAttrs(correlationID, correlationID), slog.String("error", err.Error()))...)
			if a.metrics != nil {
				a.metrics.IncAlertDispatchFailure()
			}
			return
		}
		if a.metrics != nil {
			a.metrics.IncAlertDispatchSuccess()
		}
	}()
}

func (a *Alerter) formatMessage(message, correlationID string) string {
	prefix := a.cfg.AlertMessagePrefix
	if prefix == "" {
		prefix = "[ALERT]"
	}
	if correlationID == "" {
		return fmt.Sprintf("%s %s", prefix, message)
	}
	return fmt.Sprintf("%s [request-id: %s] %s", prefix, correlationID, message)
}

func (a *Alerter) dispatch(text string) error {
	body, err := json.Marshal(chatMessage{
		ChatID:          a.cfg.ChatID,
		MessageThreadID: a.cfg.MessageThreadID,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("alert: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alert: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert: chat api returned status %d", resp.StatusCode)
	}

	return nil
}

// Shutdown waits for all in-flight alert dispatches to finish. Idempotent.
func (a *Alerter) Shutdown() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}
