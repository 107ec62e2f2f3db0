package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits *prometheus.CounterVec
	solanaRPCRateLimitWait *prometheus.HistogramVec
	solanaRPCRetries       *prometheus.CounterVec

	// Burn Metrics
	burnsTotal           *prometheus.CounterVec
	burnDuration         *prometheus.HistogramVec
	burnPhaseDuration    *prometheus.HistogramVec
	burnsInFlight        prometheus.Gauge
	confirmationPolls    *prometheus.HistogramVec
	burnedBaseUnitsTotal *prometheus.CounterVec
	feeLamportsTotal     prometheus.Counter

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRateLimitWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the client-side RPC rate limiter",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		// Burn Metrics
		burnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burns_total",
				Help: "Total number of burn operations by terminal state and error kind",
			},
			[]string{"state", "kind"},
		),
		burnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burn_duration_seconds",
				Help:    "End-to-end duration of burn operations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"state"},
		),
		burnPhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burn_phase_duration_seconds",
				Help:    "Time spent in each burn orchestrator state in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),
		burnsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "burns_in_flight",
				Help: "Number of burn operations currently running",
			},
		),
		confirmationPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "burn_confirmation_polls",
				Help:    "Number of signature status queries per confirmation",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"status"},
		),
		burnedBaseUnitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "burned_base_units_total",
				Help: "Total base units burned by confirmed transactions, by token program",
			},
			[]string{"program"},
		),
		feeLamportsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "burn_fee_lamports_total",
				Help: "Total service fee lamports paid by confirmed transactions",
			},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 10, 60},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRateLimitWait records time spent blocked on the local limiter.
func (m *Metrics) RecordRateLimitWait(endpoint string, duration float64) {
	m.solanaRPCRateLimitWait.WithLabelValues(endpoint).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Burn metric helpers

// RecordBurn records a finished burn. kind is empty for a success.
func (m *Metrics) RecordBurn(state, kind string, duration float64) {
	if kind == "" {
		kind = "none"
	}
	m.burnsTotal.WithLabelValues(state, kind).Inc()
	m.burnDuration.WithLabelValues(state).Observe(duration)
}

// RecordBurnPhase records how long the orchestrator spent in a state.
func (m *Metrics) RecordBurnPhase(phase string, duration float64) {
	m.burnPhaseDuration.WithLabelValues(phase).Observe(duration)
}

// RecordBurnStarted increments the in-flight gauge; the returned func decrements it.
func (m *Metrics) RecordBurnStarted() func() {
	m.burnsInFlight.Inc()
	return m.burnsInFlight.Dec
}

// RecordConfirmationPolls records how many status queries a confirmation took.
func (m *Metrics) RecordConfirmationPolls(status string, polls int) {
	m.confirmationPolls.WithLabelValues(status).Observe(float64(polls))
}

// RecordBurned records the amount and fee of a confirmed burn. program must come
// from a fixed set (see burn.TokenProgramName); mint addresses are caller input
// and are not used as labels.
func (m *Metrics) RecordBurned(program string, amount, feeLamports uint64) {
	m.burnedBaseUnitsTotal.WithLabelValues(program).Add(float64(amount))
	m.feeLamportsTotal.Add(float64(feeLamports))
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
