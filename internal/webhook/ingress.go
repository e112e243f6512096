// Package webhook implements the inbound HTTP surface: the webhook ingress
// adapter, health/readiness probes, and the optional metrics route.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/permata-webhook-gateway/internal/alert"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/classify"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/config"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/forwarder"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/logger"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/metrics"
	"github.com/nulpointcorp/permata-webhook-gateway/internal/requestid"
	"github.com/nulpointcorp/permata-webhook-gateway/pkg/apierr"
)

// Forwarder is the seam the ingress adapter depends on for relaying a
// classified payload to the bank. internal/forwarder.Forwarder satisfies
// this.
type Forwarder interface {
	Forward(ctx context.Context, bodyText, requestID, correlationID string) (*forwarder.ForwardResult, error)
}

// SchedulerStatus reports whether the token manager's periodic refresher is
// currently running, used by the readiness probe.
type SchedulerStatus interface {
	SchedulerActive() bool
}

// Server owns the HTTP routes and their wiring to the forwarder, classifier,
// and alerter.
type Server struct {
	cfg       config.ServerConfig
	metricsOn bool
	fwd       Forwarder
	alerter   *alert.Alerter
	metrics   *metrics.Registry
	scheduler SchedulerStatus
	audit     *logger.Logger
	log       *slog.Logger
}

// New builds a Server. metrics may be nil to disable the /metrics route
// regardless of metricsEnabled. audit may be nil to disable forward-event
// auditing.
func New(
	cfg config.ServerConfig,
	metricsEnabled bool,
	fwd Forwarder,
	alerter *alert.Alerter,
	reg *metrics.Registry,
	scheduler SchedulerStatus,
	audit *logger.Logger,
	log *slog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		metricsOn: metricsEnabled,
		fwd:       fwd,
		alerter:   alerter,
		metrics:   reg,
		scheduler: scheduler,
		audit:     audit,
		log:       log,
	}
}

// Handler builds the full fasthttp handler: routes plus middleware chain.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()

	r.GET(s.cfg.WebhookPath, s.handleHealthCheck)
	r.POST(s.cfg.WebhookPath, s.handleWebhook)
	r.GET("/readiness", s.handleReadiness)

	if s.metricsOn && s.metrics != nil {
		r.GET("/metrics", func(ctx *fasthttp.RequestCtx) { s.metrics.Handler()(ctx) })
	}

	return applyMiddleware(r.Handler,
		recovery(s.log),
		requestID,
		timing,
		securityHeaders,
	)
}

// handleHealthCheck answers GET {webhook_path} with a liveness probe.
func (s *Server) handleHealthCheck(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{
		"status":  "success",
		"message": "Application is healthy",
	})
}

// handleReadiness answers GET /readiness, reporting 503 when the token
// scheduler is not active.
func (s *Server) handleReadiness(ctx *fasthttp.RequestCtx) {
	if s.scheduler == nil || s.scheduler.SchedulerActive() {
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
}

// handleWebhook answers POST {webhook_path}: the main ingestion path.
func (s *Server) handleWebhook(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	body := ctx.PostBody()

	cid := requestid.Extract(body)

	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		s.alerter.SendErrorAlert("webhook: payload is not valid JSON", cid)
		s.ack(ctx, start)
		return
	}

	classification := "ignored"
	switch {
	case classify.IsDeliveryReceipt(body):
		classification = "delivery_receipt"
	case classify.IsInboundFlow(body):
		classification = "inbound_flow"
	}
	if s.metrics != nil {
		s.metrics.RecordPayloadClassification(classification)
	}
	if classification == "ignored" {
		s.ack(ctx, start)
		return
	}

	result, err := s.fwd.Forward(ctx, string(body), cid, cid)
	if err != nil {
		s.handleForwardError(ctx, err, cid, classification, start)
		return
	}

	s.writeForwardResult(ctx, result, cid, classification, start)
}

func (s *Server) handleForwardError(ctx *fasthttp.RequestCtx, err error, cid, classification string, start time.Time) {
	if apierr.IsAuthenticationError(err) {
		apierr.WriteAuthFailed(ctx, err.Error())
	} else {
		apierr.WriteProcessingFailure(ctx, err.Error())
	}
	s.observe(ctx, start)
	s.recordAudit(ctx, cid, classification, false, start)
}

// writeForwardResult maps the bank's response onto the HTTP response
// verbatim. A body that is valid JSON is passed through unmodified; a
// non-JSON body is wrapped in the gateway's own envelope so callers always
// receive parseable JSON.
func (s *Server) writeForwardResult(ctx *fasthttp.RequestCtx, result *forwarder.ForwardResult, cid, classification string, start time.Time) {
	status := result.Status
	if status < 100 || status > 599 {
		status = fasthttp.StatusBadGateway
	}

	var probe interface{}
	if json.Unmarshal([]byte(result.Body), &probe) == nil {
		ctx.SetStatusCode(status)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(result.Body)
	} else {
		apierr.WriteUpstreamBody(ctx, status, result.Body)
	}

	s.observe(ctx, start)
	s.recordAudit(ctx, cid, classification, true, start)
}

// recordAudit writes a non-blocking forward-event entry for later review.
// No-op when auditing is disabled.
func (s *Server) recordAudit(ctx *fasthttp.RequestCtx, cid, classification string, forwarded bool, start time.Time) {
	if s.audit == nil {
		return
	}
	s.audit.Log(logger.ForwardEvent{
		RequestID:      cid,
		CorrelationID:  cid,
		Classification: classification,
		Status:         ctx.Response.StatusCode(),
		Forwarded:      forwarded,
		LatencyMs:      uint32(time.Since(start).Milliseconds()),
	})
}

func (s *Server) ack(ctx *fasthttp.RequestCtx, start time.Time) {
	apierr.WriteSuccessAck(ctx)
	s.observe(ctx, start)
}

// observe records end-to-end HTTP metrics for the webhook route using the
// status code already written to ctx by the caller.
func (s *Server) observe(ctx *fasthttp.RequestCtx, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveHTTP("webhook", ctx.Response.StatusCode(), time.Since(start))
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
