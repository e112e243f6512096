// Package apierr provides the gateway's structured error taxonomy and the
// HTTP envelopes it is translated into at the webhook ingress boundary.
package apierr

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
)

// Kind tags an error with the taxonomy the retry and alert policies pivot
// on.
type Kind string

const (
	KindHTTPTransport       Kind = "http_transport"
	KindSerialization       Kind = "serialization"
	KindAuthenticationFailed Kind = "authentication_failed"
	KindMessageProcessing   Kind = "message_processing"
	KindPayloadConversion   Kind = "payload_conversion"
	KindHmac                Kind = "hmac"
	KindIO                  Kind = "io"
	KindConfiguration       Kind = "configuration"
	KindGeneric             Kind = "generic"
)

// GatewayError is a tagged error carrying the kind the rest of the gateway
// uses to decide whether to retry an operation or fire an alert.
type GatewayError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error { return e.Err }

// New builds a GatewayError of the given kind.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Wrap builds a GatewayError of the given kind around an underlying error.
func Wrap(kind Kind, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Err: err}
}

// legacyAuthMarkers are substrings that indicate an authentication failure
// in errors that did not originate as a *GatewayError — e.g. a raw error
// bubbled up from a collaborator. Retained only as a fallback; new code
// should always produce a properly-kinded GatewayError instead of relying
// on this.
var legacyAuthMarkers = []string{
	"Login failed", "Token", "authentication", "unauthorized", "Unauthorized", "401",
}

// IsAuthenticationError reports whether err should be treated as an
// authentication failure at the forwarder boundary: a structural check
// against KindAuthenticationFailed or KindHmac first, falling back to
// substring matching only when err carries no GatewayError in its chain.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}

	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind == KindAuthenticationFailed || gerr.Kind == KindHmac
	}

	msg := err.Error()
	for _, marker := range legacyAuthMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether a forward/login attempt that failed with err
// should be retried. Only transport-level failures are retryable;
// authentication and HMAC failures never are.
func IsRetryable(err error) bool {
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind == KindHTTPTransport
	}
	// An error with no GatewayError in its chain is assumed to be a raw
	// transport failure (e.g. from the standard library's net/http client)
	// and is retried conservatively.
	return true
}

// statusDescEnvelope is the gateway's own response shape for ignored
// payloads and forwarder-internal failures: {"StatusCode":"00"|"06","StatusDesc":...}.
type statusDescEnvelope struct {
	StatusCode string `json:"StatusCode"`
	StatusDesc string `json:"StatusDesc"`
}

// authFailedEnvelope is returned when the forwarder classifies a failure as
// an authentication error.
type authFailedEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteSuccessAck writes the ignore/no-op acknowledgement:
// 200 {"StatusCode":"00","StatusDesc":"Success"}.
func WriteSuccessAck(ctx *fasthttp.RequestCtx) {
	writeStatusDesc(ctx, fasthttp.StatusOK, "00", "Success")
}

// WriteProcessingFailure writes the forwarder-internal-error envelope:
// 500 {"StatusCode":"06","StatusDesc":<message>}.
func WriteProcessingFailure(ctx *fasthttp.RequestCtx, message string) {
	writeStatusDesc(ctx, fasthttp.StatusInternalServerError, "06", message)
}

// WriteUpstreamBody writes a non-JSON upstream body wrapped the same way a
// forwarder-internal error is: {"StatusCode":"06","StatusDesc":<body>}, but
// with the upstream's own HTTP status preserved.
func WriteUpstreamBody(ctx *fasthttp.RequestCtx, status int, body string) {
	writeStatusDesc(ctx, status, "06", body)
}

// WriteAuthFailed writes the authentication-blocked envelope:
// 401 {"error":"Authentication failed","message":<message>}.
func WriteAuthFailed(ctx *fasthttp.RequestCtx, message string) {
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(authFailedEnvelope{Error: "Authentication failed", Message: message})
	ctx.SetBody(body)
}

func writeStatusDesc(ctx *fasthttp.RequestCtx, httpStatus int, statusCode, statusDesc string) {
	ctx.SetStatusCode(httpStatus)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(statusDescEnvelope{StatusCode: statusCode, StatusDesc: statusDesc})
	ctx.SetBody(body)
}
