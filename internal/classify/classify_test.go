package classify

import "testing"

func TestIsDeliveryReceiptViaStatuses(t *testing.T) {
	body := []byte(`{"entry":[{"id":"1","changes":[{"value":{"statuses":[{"status":"delivered"}]}}]}]}`)
	if !IsDeliveryReceipt(body) {
		t.Fatal("expected DR payload to match via statuses path")
	}
	if IsInboundFlow(body) {
		t.Fatal("statuses payload should not match inbound flow")
	}
}

func TestIsDeliveryReceiptViaErrorField(t *testing.T) {
	body := []byte(`{"error":{"code":500,"message":"x"}}`)
	if !IsDeliveryReceipt(body) {
		t.Fatal("expected DR payload to match via error field")
	}
}

func TestIsDeliveryReceiptErrorFieldNull(t *testing.T) {
	body := []byte(`{"error":null}`)
	if !IsDeliveryReceipt(body) {
		t.Fatal("a null error field still counts as present")
	}
}

func TestIsInboundFlow(t *testing.T) {
	body := []byte(`{"data":{"entry":[{"changes":[{"value":{"messages":[{"interactive":{"type":"nfm_reply"}}]}}]}]}}`)
	if !IsInboundFlow(body) {
		t.Fatal("expected inbound flow match")
	}
}

func TestIsInboundFlowWrongType(t *testing.T) {
	body := []byte(`{"data":{"entry":[{"changes":[{"value":{"messages":[{"interactive":{"type":"text"}}]}}]}]}}`)
	if IsInboundFlow(body) {
		t.Fatal("expected no match for a different interactive type")
	}
}

func TestIgnoredPayload(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	if IsDeliveryReceipt(body) || IsInboundFlow(body) {
		t.Fatal("unrelated payload should match neither predicate")
	}
}

func TestClassifierDisjointnessIsNotAssumed(t *testing.T) {
	body := []byte(`{"error":"boom","data":{"entry":[{"changes":[{"value":{"messages":[{"interactive":{"type":"nfm_reply"}}]}}]}]}}`)
	if !IsDeliveryReceipt(body) || !IsInboundFlow(body) {
		t.Fatal("a payload may legitimately satisfy both predicates")
	}
}

func TestMissingFieldsNeverMatch(t *testing.T) {
	body := []byte(`{"entry":"not-an-array"}`)
	if IsDeliveryReceipt(body) {
		t.Fatal("a wildcard over a non-array must not match")
	}
}
