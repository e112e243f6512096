package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
)

func TestNewWritesErrorLinesToFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggerConfig{
		Dir:        dir,
		FileName:   "gateway",
		MaxBackups: 1,
		MaxSize:    1,
		MaxAge:     1,
		Level:      "info",
	}

	log, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	log.Info("informational, stdout only")
	log.Error("something broke")

	expected := filepath.Join(dir, "gateway."+time.Now().UTC().Format("2006-01-02")+".error.log")
	data, err := os.ReadFile(expected)
	if err != nil {
		t.Fatalf("expected error log file at %s: %v", expected, err)
	}
	if !bytes.Contains(data, []byte("something broke")) {
		t.Errorf("error log file missing expected message, got: %s", data)
	}
	if bytes.Contains(data, []byte("informational, stdout only")) {
		t.Errorf("error log file should not contain INFO-level lines")
	}
}

func TestFanoutHandlerRoutesOnlyErrorToFile(t *testing.T) {
	var stdoutBuf, fileBuf bytes.Buffer

	stdout := slog.NewJSONHandler(&stdoutBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	file := slog.NewJSONHandler(&fileBuf, &slog.HandlerOptions{Level: slog.LevelError})
	h := &fanoutHandler{stdout: stdout, file: file}

	log := slog.New(h)
	log.Info("info line")
	log.Warn("warn line")
	log.Error("error line")

	if !bytes.Contains(stdoutBuf.Bytes(), []byte("info line")) {
		t.Error("stdout missing info line")
	}
	if !bytes.Contains(stdoutBuf.Bytes(), []byte("error line")) {
		t.Error("stdout missing error line")
	}
	if bytes.Contains(fileBuf.Bytes(), []byte("info line")) {
		t.Error("file should not contain info line")
	}
	if bytes.Contains(fileBuf.Bytes(), []byte("warn line")) {
		t.Error("file should not contain warn line")
	}
	if !bytes.Contains(fileBuf.Bytes(), []byte("error line")) {
		t.Error("file missing error line")
	}
}

func TestFanoutHandlerWithAttrsPropagatesToBoth(t *testing.T) {
	var stdoutBuf, fileBuf bytes.Buffer
	stdout := slog.NewJSONHandler(&stdoutBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	file := slog.NewJSONHandler(&fileBuf, &slog.HandlerOptions{Level: slog.LevelError})
	h := &fanoutHandler{stdout: stdout, file: file}

	withAttrs := h.WithAttrs([]slog.Attr{slog.String("component", "token")})
	log := slog.New(withAttrs)
	log.Error("boom")

	var parsed map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(fileBuf.Bytes()), &parsed); err != nil {
		t.Fatalf("unmarshal file log line: %v", err)
	}
	if parsed["component"] != "token" {
		t.Errorf("component attr missing from file handler output: %v", parsed)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel("nonsense"); got != slog.LevelInfo {
		t.Fatalf("parseLevel(nonsense) = %v, want info", got)
	}
}

func TestRequestAttrsDefaultsToMain(t *testing.T) {
	attrs := RequestAttrs("", "")
	want := []any{"uniqueId", "MAIN", "x-request-id", "MAIN"}
	if len(attrs) != len(want) {
		t.Fatalf("RequestAttrs(\"\", \"\") = %v, want %v", attrs, want)
	}
	for i := range want {
		if attrs[i] != want[i] {
			t.Errorf("RequestAttrs(\"\", \"\")[%d] = %v, want %v", i, attrs[i], want[i])
		}
	}
}

func TestRequestAttrsRequestIDFallsBackToUniqueID(t *testing.T) {
	attrs := RequestAttrs("abc-123", "")
	if attrs[1] != "abc-123" || attrs[3] != "abc-123" {
		t.Errorf("RequestAttrs(\"abc-123\", \"\") = %v, want both ids = abc-123", attrs)
	}
}

func TestNewLinesCarryTimestampAndMessageKeys(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggerConfig{Dir: dir, FileName: "gateway", Level: "info"}

	var buf bytes.Buffer
	log, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// Swap in a buffer-backed stdout handler with the same ReplaceAttr so we
	// can inspect the JSON without touching the real os.Stdout.
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: replaceAttr})
	log = slog.New(h).With(RequestAttrs("evt-1", "req-1")...)

	log.Info("something happened")

	var parsed map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &parsed); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	for _, key := range []string{"timestamp", "uniqueId", "x-request-id", "message"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("log line missing required key %q: %v", key, parsed)
		}
	}
	if _, ok := parsed["time"]; ok {
		t.Errorf("log line should not carry the raw slog \"time\" key: %v", parsed)
	}
	if _, ok := parsed["msg"]; ok {
		t.Errorf("log line should not carry the raw slog \"msg\" key: %v", parsed)
	}
}
