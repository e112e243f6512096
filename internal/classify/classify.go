// Package classify decides whether an inbound webhook payload is a
// Delivery Receipt, an Inbound Flow event, or something the gateway should
// silently ignore.
//
// Matching is structural rather than a literal string scan: a small path
// navigator walks the parsed JSON tree the way the messaging platform's two
// real payload shapes are nested, using github.com/tidwall/gjson to avoid a hand-rolled
// JSON decoder.
package classify

import "github.com/tidwall/gjson"

// wildcard marks "iterate every element of this array" in a path segment
// list, mirroring the "[*]" syntax of the source this gateway's behaviour
// is grounded on.
const wildcard = "*"

var (
	drStatusesPath      = []string{"entry", wildcard, "changes", wildcard, "value", "statuses"}
	inboundFlowTypePath = []string{"data", "entry", wildcard, "changes", wildcard, "value", "messages", wildcard, "interactive", "type"}
)

// IsDeliveryReceipt reports whether body is a Delivery Receipt payload: it
// either carries a top-level "error" field (any value, including null), or
// at least one entry[*].changes[*].value.statuses node exists.
func IsDeliveryReceipt(body []byte) bool {
	root := gjson.ParseBytes(body)
	if root.Get("error").Exists() {
		return true
	}
	return len(navigate(root, drStatusesPath)) > 0
}

// IsInboundFlow reports whether body is an Inbound Flow payload: the path
// data.entry[*].changes[*].value.messages[*].interactive.type resolves to
// the literal string "nfm_reply" for at least one array element.
func IsInboundFlow(body []byte) bool {
	root := gjson.ParseBytes(body)
	for _, leaf := range navigate(root, inboundFlowTypePath) {
		if leaf.Type == gjson.String && leaf.String() == "nfm_reply" {
			return true
		}
	}
	return false
}

// navigate walks current along path, expanding wildcard segments over every
// element of the array found at that point. It returns every leaf node
// reached at the end of path; a missing field, a wildcard over a
// non-array, or a type mismatch along the way yields no match for that
// branch rather than an error.
func navigate(current gjson.Result, path []string) []gjson.Result {
	if len(path) == 0 {
		return []gjson.Result{current}
	}

	segment, rest := path[0], path[1:]

	if segment == wildcard {
		if !current.IsArray() {
			return nil
		}
		var out []gjson.Result
		for _, item := range current.Array() {
			out = append(out, navigate(item, rest)...)
		}
		return out
	}

	field := current.Get(segment)
	if !field.Exists() {
		return nil
	}
	return navigate(field, rest)
}
