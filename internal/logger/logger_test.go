package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func TestLogFlushesOnTicker(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(context.Background(), testLogger(&buf))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer l.Close()

	l.Log(ForwardEvent{
		RequestID:      "req-1",
		Classification: "delivery_receipt",
		Status:         200,
		Forwarded:      true,
	})

	deadline := time.Now().Add(2 * time.Second)
	for buf.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if buf.Len() == 0 {
		t.Fatal("expected a flushed log line within the flush interval")
	}

	var parsed map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &parsed); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if parsed["x-request-id"] != "req-1" {
		t.Errorf("x-request-id = %v, want req-1", parsed["x-request-id"])
	}
	if parsed["classification"] != "delivery_receipt" {
		t.Errorf("classification = %v, want delivery_receipt", parsed["classification"])
	}
}

func TestCloseFlushesRemainingEntries(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(context.Background(), testLogger(&buf))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Log(ForwardEvent{RequestID: "req-2", Classification: "inbound_flow", Status: 200, Forwarded: true})
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !bytes.Contains(buf.Bytes(), []byte("req-2")) {
		t.Errorf("expected flushed entry for req-2, got: %s", buf.String())
	}
}

func TestLogDropsWhenChannelFull(t *testing.T) {
	l := &Logger{
		ch:      make(chan ForwardEvent), // unbuffered, never drained in this test
		done:    make(chan struct{}),
		baseCtx: context.Background(),
		log:     testLogger(&bytes.Buffer{}),
	}

	l.Log(ForwardEvent{RequestID: "dropped"})

	if got := l.DroppedLogs(); got != 1 {
		t.Errorf("DroppedLogs() = %d, want 1", got)
	}
}
