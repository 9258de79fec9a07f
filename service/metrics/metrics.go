package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics. A nil *Metrics
// is valid everywhere and records nothing.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	solanaRPCRetries      *prometheus.CounterVec

	// Confirmation Metrics
	confirmationsTotal      *prometheus.CounterVec
	confirmationDuration    *prometheus.HistogramVec
	confirmationPollTicks   prometheus.Histogram
	paymentValidationsTotal *prometheus.CounterVec

	// Payment lifecycle Metrics
	intentsCreatedTotal   *prometheus.CounterVec
	quotesComputedTotal   *prometheus.CounterVec
	transactionsBuilt     *prometheus.CounterVec
	rateLimitRejections   *prometheus.CounterVec
	workflowsStartedTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

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
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),

		confirmationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_confirmations_total",
				Help: "Terminal confirmation poll outcomes by state",
			},
			[]string{"state", "caller"},
		),
		confirmationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_confirmation_duration_seconds",
				Help:    "Time from first poll to a terminal confirmation state",
				Buckets: []float64{0.5, 1, 2, 5, 10, 15, 25, 45, 60, 90, 120},
			},
			[]string{"state"},
		),
		confirmationPollTicks: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_confirmation_poll_ticks",
				Help:    "Number of signature status polls per confirmation",
				Buckets: []float64{1, 2, 5, 10, 25, 60, 120},
			},
		),
		paymentValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_validations_total",
				Help: "Transfer validation results by outcome code",
			},
			[]string{"result"},
		),

		intentsCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_intents_created_total",
				Help: "Total number of payment intents created",
			},
			[]string{"model"},
		),
		quotesComputedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricing_quotes_total",
				Help: "Total number of quotes computed",
			},
			[]string{"model"},
		),
		transactionsBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transactions_built_total",
				Help: "Unsigned transactions composed for clients",
			},
			[]string{"kind", "status"},
		),
		rateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		workflowsStartedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "confirmation_workflows_started_total",
				Help: "Background confirmation workflows started",
			},
			[]string{"status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
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

// RecordRPCCall records a Solana RPC call with its status and duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRPCRetry records an RPC retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// Confirmation metric helpers

// RecordConfirmation records a terminal poll outcome.
// caller distinguishes the HTTP request path from the background workflow.
func (m *Metrics) RecordConfirmation(state, caller string, ticks int, duration float64) {
	if m == nil {
		return
	}
	m.confirmationsTotal.WithLabelValues(state, caller).Inc()
	m.confirmationDuration.WithLabelValues(state).Observe(duration)
	m.confirmationPollTicks.Observe(float64(ticks))
}

// RecordValidation records the outcome code of a transfer validation.
func (m *Metrics) RecordValidation(result string) {
	if m == nil {
		return
	}
	m.paymentValidationsTotal.WithLabelValues(result).Inc()
}

// Payment lifecycle metric helpers

func (m *Metrics) RecordIntentCreated(model string) {
	if m == nil {
		return
	}
	m.intentsCreatedTotal.WithLabelValues(model).Inc()
}

func (m *Metrics) RecordQuote(model string) {
	if m == nil {
		return
	}
	m.quotesComputedTotal.WithLabelValues(model).Inc()
}

// RecordTransactionBuilt records a composed transaction. kind is "transfer" or "mint".
func (m *Metrics) RecordTransactionBuilt(kind string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.transactionsBuilt.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordRateLimitRejection(route string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(route).Inc()
}

func (m *Metrics) RecordWorkflowStarted(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.workflowsStartedTotal.WithLabelValues(status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
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
