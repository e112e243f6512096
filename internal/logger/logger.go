// Package logger implements a non-blocking, batched audit trail of webhook
// forward attempts.
//
// Entries are written to a buffered channel and flushed in batches by a
// background goroutine, so recording an attempt never blocks the request
// path. If the channel fills up (> 10 000 entries), new entries are dropped
// and counted in DroppedLogs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/logging"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// ForwardEvent records the outcome of a single webhook forward attempt.
type ForwardEvent struct {
	ID             uuid.UUID
	RequestID      string
	CorrelationID  string
	Classification string
	Status         int
	Retries        int
	LatencyMs      uint32
	Forwarded      bool
	CreatedAt      time.Time
}

// Logger drains ForwardEvent entries off a buffered channel and writes them
// as structured log lines in batches, so the webhook hot path never waits on
// disk or stdout I/O.
type Logger struct {
	ch        chan ForwardEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
}

// New starts the background drain goroutine and returns a ready Logger.
func New(ctx context.Context, slogger *slog.Logger) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan ForwardEvent, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log records a forward attempt. Never blocks: if the channel is full the
// entry is dropped and counted.
func (l *Logger) Log(entry ForwardEvent) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

// DroppedLogs returns the number of entries dropped because the channel was
// full.
func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

// Close flushes any remaining entries and stops the drain goroutine. Safe to
// call multiple times.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]ForwardEvent, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "webhook forwarded",
				append(logging.RequestAttrs(e.CorrelationID, e.RequestID),
					slog.String("audit_id", e.ID.String()),
					slog.String("classification", e.Classification),
					slog.Int("status", e.Status),
					slog.Int("retries", e.Retries),
					slog.Uint64("latency_ms", uint64(e.LatencyMs)),
					slog.Bool("forwarded", e.Forwarded),
					slog.Time("created_at", e.CreatedAt),
				)...,
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}
