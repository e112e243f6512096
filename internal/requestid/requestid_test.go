package requestid

import (
	"strings"
	"testing"
)

func TestExtractPrefersXID(t *testing.T) {
	got := Extract([]byte(`{"xid":"abc","id":"def"}`))
	if got != "req-abc" {
		t.Fatalf("got %q, want req-abc", got)
	}
}

func TestExtractFallsBackToID(t *testing.T) {
	got := Extract([]byte(`{"xid":"","id":"def"}`))
	if got != "req-def" {
		t.Fatalf("got %q, want req-def", got)
	}
}

func TestExtractFallsBackToUUID(t *testing.T) {
	got := Extract([]byte(`{"xid":"","id":""}`))
	if !strings.HasPrefix(got, "req-") || len(got) != len("req-")+36 {
		t.Fatalf("expected a req-<uuid> fallback, got %q", got)
	}
}

func TestExtractInvalidJSONFallsBackToUUID(t *testing.T) {
	got := Extract([]byte(`{"bad":`))
	if !strings.HasPrefix(got, "req-") {
		t.Fatalf("expected req- prefix for invalid JSON, got %q", got)
	}
}

func TestExtractIgnoresNonStringXID(t *testing.T) {
	got := Extract([]byte(`{"xid":123,"id":"def"}`))
	if got != "req-def" {
		t.Fatalf("a numeric xid must fall through to id, got %q", got)
	}
}
