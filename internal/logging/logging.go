// Package logging builds the gateway's structured logger: JSON lines to
// stdout for every level, with ERROR-level lines additionally written to a
// daily rotating file.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
)

// DefaultID is the uniqueId/x-request-id value used for log lines that are
// not scoped to a specific inbound request (startup, scheduler ticks, and
// the like) — the same "MAIN" sentinel the original logger defaulted to.
const DefaultID = "MAIN"

// RequestAttrs returns the {uniqueId, x-request-id} attr pair every log line
// is required to carry. requestID defaults to uniqueID when empty, and
// uniqueID defaults to DefaultID when empty, mirroring the original logger's
// unique_id.unwrap_or("MAIN") / request_id.unwrap_or(unique_id) fallback.
func RequestAttrs(uniqueID, requestID string) []any {
	if uniqueID == "" {
		uniqueID = DefaultID
	}
	if requestID == "" {
		requestID = uniqueID
	}
	return []any{"uniqueId", uniqueID, "x-request-id", requestID}
}

// replaceAttr renames slog's built-in time/msg keys to the timestamp/message
// keys every log line is required to carry.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// New builds a *slog.Logger per cfg. Every level is written to stdout as
// JSON; ERROR-level records are additionally written to
// {dir}/{file_name}.{YYYY-MM-DD}.error.log, rotated per the lumberjack
// settings in cfg. Every emitted line carries timestamp and message;
// uniqueId and x-request-id appear on lines whose call site passes
// RequestAttrs (which defaults both to "MAIN"). New adds no default attrs.
func New(cfg config.LoggerConfig) (*slog.Logger, error) {
	level := parseLevel(cfg.Level)

	stdoutHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	})

	fileWriter, err := newDailyErrorWriter(cfg)
	if err != nil {
		return nil, err
	}
	fileHandler := slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{
		Level:       slog.LevelError,
		ReplaceAttr: replaceAttr,
	})

	return slog.New(&fanoutHandler{stdout: stdoutHandler, file: fileHandler}), nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanoutHandler duplicates ERROR-level records to a second handler while
// every record (subject to the stdout handler's own level gate) goes to
// stdout.
type fanoutHandler struct {
	stdout slog.Handler
	file   slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdout.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.stdout.Enabled(ctx, record.Level) {
		if err := h.stdout.Handle(ctx, record); err != nil {
			return err
		}
	}
	if h.file.Enabled(ctx, record.Level) {
		if err := h.file.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanoutHandler{stdout: h.stdout.WithAttrs(attrs), file: h.file.WithAttrs(attrs)}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{stdout: h.stdout.WithGroup(name), file: h.file.WithGroup(name)}
}

// dailyErrorWriter rotates the underlying lumberjack.Logger to a new
// filename whenever the calendar day changes, so error logs land in
// {dir}/{file_name}.{YYYY-MM-DD}.error.log as each day passes.
type dailyErrorWriter struct {
	cfg         config.LoggerConfig
	mu          sync.Mutex
	currentDate string
	active      *lumberjack.Logger
}

func newDailyErrorWriter(cfg config.LoggerConfig) (*dailyErrorWriter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("logging: logger.dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	return &dailyErrorWriter{cfg: cfg}, nil
}

func (w *dailyErrorWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := w.today()
	if date != w.currentDate {
		if w.active != nil {
			_ = w.active.Close()
		}
		w.currentDate = date
		w.active = &lumberjack.Logger{
			Filename:   w.filenameFor(date),
			MaxBackups: w.cfg.MaxBackups,
			MaxSize:    w.cfg.MaxSize,
			MaxAge:     w.cfg.MaxAge,
			Compress:   w.cfg.Compress,
			LocalTime:  w.cfg.LocalTime,
		}
	}

	return w.active.Write(p)
}

func (w *dailyErrorWriter) today() string {
	now := time.Now()
	if w.cfg.LocalTime {
		return now.Format("2006-01-02")
	}
	return now.UTC().Format("2006-01-02")
}

func (w *dailyErrorWriter) filenameFor(date string) string {
	return filepath.Join(w.cfg.Dir, fmt.Sprintf("%s.%s.error.log", w.cfg.FileName, date))
}
