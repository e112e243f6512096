package signer

import "testing"

func TestSignDeterministic(t *testing.T) {
	sig1, err := Sign("static-key", "api-key", "2024-01-01T00:00:00.000+07:00", `{"a":1}`)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig2, err := Sign("static-key", "api-key", "2024-01-01T00:00:00.000+07:00", `{"a":1}`)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig1 != sig2 {
		t.Fatalf("expected deterministic signature, got %q != %q", sig1, sig2)
	}
}

func TestSignSensitiveToEachInput(t *testing.T) {
	base, err := Sign("static-key", "api-key", "ts", "data")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	variants := []struct {
		name                         string
		staticKey, key, ts, dataArg string
	}{
		{"static-key", "other-static", "api-key", "ts", "data"},
		{"key", "static-key", "other-key", "ts", "data"},
		{"timestamp", "static-key", "api-key", "other-ts", "data"},
		{"data", "static-key", "api-key", "ts", "other-data"},
	}

	for _, v := range variants {
		got, err := Sign(v.staticKey, v.key, v.ts, v.dataArg)
		if err != nil {
			t.Fatalf("sign(%s): %v", v.name, err)
		}
		if got == base {
			t.Errorf("changing %s did not change the signature", v.name)
		}
	}
}

func TestSignRejectsEmptyStaticKey(t *testing.T) {
	if _, err := Sign("", "k", "t", "d"); err == nil {
		t.Fatal("expected error for empty static key")
	}
}

func TestSignReturnsPaddedBase64(t *testing.T) {
	got, err := Sign("k", "key", "timestamp", "data")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Standard base64 of a 32-byte SHA-256 digest is 44 chars with one
	// trailing '=' pad character.
	if len(got) != 44 || got[43] != '=' {
		t.Fatalf("expected 44-char padded base64, got %q (len %d)", got, len(got))
	}
}
