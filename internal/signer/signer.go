// Package signer computes the HMAC-SHA256 request signatures the bank API
// requires on every login and callback-status call.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// Sign returns base64(HMAC_SHA256(staticKey, "key:timestamp:data")).
//
// The same four inputs always produce the same signature; changing any one
// of them changes the output with overwhelming probability. staticKey must
// be non-empty — hmac.New rejects a zero-length key.
func Sign(staticKey, key, timestamp, data string) (string, error) {
	if staticKey == "" {
		return "", fmt.Errorf("signer: static key must not be empty")
	}

	message := fmt.Sprintf("%s:%s:%s", key, timestamp, data)

	mac := hmac.New(sha256.New, []byte(staticKey))
	mac.Write([]byte(message))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
