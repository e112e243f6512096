// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_webhook_payloads_total{classification}
	payloadsTotal *prometheus.CounterVec

	// gateway_token_login_total{outcome}
	tokenLoginTotal *prometheus.CounterVec

	// gateway_token_refresh_total{outcome}
	tokenRefreshTotal *prometheus.CounterVec

	// gateway_forward_attempts_total{outcome}
	forwardAttemptsTotal *prometheus.CounterVec

	// gateway_forward_duration_seconds{outcome}
	forwardDuration *prometheus.HistogramVec

	// gateway_forward_retries_total
	forwardRetries prometheus.Counter

	// gateway_alert_dispatch_total{outcome}
	alertDispatchTotal *prometheus.CounterVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"route"},
		),

		payloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhook_payloads_total",
				Help: "Inbound webhook payloads classified by kind",
			},
			[]string{"classification"},
		),

		tokenLoginTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_login_total",
				Help: "Bank OAuth2 login attempts by outcome",
			},
			[]string{"outcome"},
		),

		tokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_token_refresh_total",
				Help: "Periodic token refresh cycles by outcome",
			},
			[]string{"outcome"},
		),

		forwardAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_forward_attempts_total",
				Help: "Signed forward attempts to the bank callback-status endpoint by outcome",
			},
			[]string{"outcome"},
		),

		forwardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_forward_duration_seconds",
				Help:    "Forward call duration in seconds, from first attempt to final outcome",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"outcome"},
		),

		forwardRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_forward_retries_total",
			Help: "Total retry attempts performed while forwarding to the bank",
		}),

		alertDispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_alert_dispatch_total",
				Help: "Telegram alert dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.payloadsTotal,
		r.tokenLoginTotal,
		r.tokenRefreshTotal,
		r.forwardAttemptsTotal,
		r.forwardDuration,
		r.forwardRetries,
		r.alertDispatchTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordPayloadClassification tallies one inbound payload by classification:
// "delivery_receipt", "inbound_flow", or "ignored".
func (r *Registry) RecordPayloadClassification(classification string) {
	r.payloadsTotal.WithLabelValues(classification).Inc()
}

func (r *Registry) IncTokenLoginSuccess() { r.tokenLoginTotal.WithLabelValues("success").Inc() }
func (r *Registry) IncTokenLoginFailure() { r.tokenLoginTotal.WithLabelValues("failure").Inc() }

func (r *Registry) IncTokenRefreshSuccess() { r.tokenRefreshTotal.WithLabelValues("success").Inc() }
func (r *Registry) IncTokenRefreshFailure() { r.tokenRefreshTotal.WithLabelValues("failure").Inc() }

// ObserveForward records one terminal forward outcome ("success", "upstream_error",
// "auth_failed", "transport_error") together with its total duration.
func (r *Registry) ObserveForward(outcome string, dur time.Duration) {
	r.forwardAttemptsTotal.WithLabelValues(outcome).Inc()
	r.forwardDuration.WithLabelValues(outcome).Observe(dur.Seconds())
}

func (r *Registry) IncForwardRetry() { r.forwardRetries.Inc() }

func (r *Registry) IncAlertDispatchSuccess() { r.alertDispatchTotal.WithLabelValues("success").Inc() }
func (r *Registry) IncAlertDispatchFailure() { r.alertDispatchTotal.WithLabelValues("failure").Inc() }

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
