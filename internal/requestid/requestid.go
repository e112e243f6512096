// Package requestid derives a human-readable correlation id from an inbound
// webhook body.
package requestid

import (
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Extract returns "req-" + the payload's "xid" field if it is a non-empty
// string, else "req-" + "id" under the same rule, else a freshly generated
// "req-" + uuid v4. A body that fails to parse as JSON also falls through
// to a fresh uuid. The result is for logs and alert messages only — it is
// never used for deduplication.
func Extract(body []byte) string {
	// gjson.ParseBytes is lenient and can still find fields in a truncated
	// body, so validity is checked explicitly first.
	if !gjson.ValidBytes(body) {
		return "req-" + uuid.New().String()
	}
	root := gjson.ParseBytes(body)

	if xid := root.Get("xid"); xid.Type == gjson.String && xid.Str != "" {
		return "req-" + xid.Str
	}
	if id := root.Get("id"); id.Type == gjson.String && id.Str != "" {
		return "req-" + id.Str
	}

	return "req-" + uuid.New().String()
}
