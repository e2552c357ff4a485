// Package monitoring holds the Prometheus instrumentation shared across the
// gateway: HTTP surface, upstream engine, credential pool, streaming, and
// billing.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kiro2api_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiro2api_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_upstream_requests_total",
			Help: "Total number of upstream requests",
		},
		[]string{"status_class"},
	)

	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kiro2api_upstream_request_duration_seconds",
			Help:    "Upstream request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	UpstreamRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_upstream_retry_attempts_total",
			Help: "Total number of upstream retry attempts by reason",
		},
		[]string{"reason"},
	)

	UpstreamModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_upstream_model_requests_total",
			Help: "Total number of upstream requests by model",
		},
		[]string{"model"},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_credential_refreshes_total",
			Help: "Total number of credential token refreshes",
		},
		[]string{"credential", "status"},
	)

	CredentialRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiro2api_credential_rotations_total",
			Help: "Total number of credential rotations after upstream failure",
		},
	)

	CredentialUnhealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiro2api_credential_unhealthy",
			Help: "Number of credentials currently in cooldown",
		},
	)

	SSEEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_sse_events_total",
			Help: "Total number of SSE frames sent by dialect",
		},
		[]string{"dialect"},
	)

	SSEDisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_sse_disconnects_total",
			Help: "Total number of SSE terminations by reason",
		},
		[]string{"dialect", "reason"},
	)

	ToolCallsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiro2api_tool_calls_total",
			Help: "Total number of tool calls relayed to clients",
		},
	)

	TokensProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_tokens_processed_total",
			Help: "Token counters folded from upstream usage frames",
		},
		[]string{"kind"},
	)

	CreditsDeductedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiro2api_credits_deducted_total",
			Help: "Sum of credits deducted from user balances",
		},
	)

	BillingRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_billing_rejections_total",
			Help: "Requests rejected by the billing path",
		},
		[]string{"stage"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kiro2api_batches_total",
			Help: "Batch lifecycle events",
		},
		[]string{"event"},
	)

	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kiro2api_ratelimit_keys",
			Help: "Number of per-key rate limiters currently cached",
		},
	)

	RateLimitSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kiro2api_ratelimit_sweeps_total",
			Help: "Number of TTL sweeps over the rate limiter cache",
		},
	)
)

// ObserveUsage feeds the token counters from one folded usage object.
func ObserveUsage(prompt, completion, cacheWrite, cacheHit int) {
	TokensProcessed.WithLabelValues("prompt").Add(float64(prompt))
	TokensProcessed.WithLabelValues("completion").Add(float64(completion))
	TokensProcessed.WithLabelValues("cache_write").Add(float64(cacheWrite))
	TokensProcessed.WithLabelValues("cache_hit").Add(float64(cacheHit))
}
