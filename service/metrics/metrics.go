package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Node RPC Metrics
	rpcCallsTotal         *prometheus.CounterVec
	rpcCallDuration       *prometheus.HistogramVec
	endpointAttemptsTotal *prometheus.CounterVec
	endpointDialDuration  *prometheus.HistogramVec

	// Payment Pipeline Metrics
	paymentsTotal          *prometheus.CounterVec
	paymentDuration        *prometheus.HistogramVec
	pipelineStageDuration  *prometheus.HistogramVec
	paymentsInFlight       prometheus.Gauge
	transferredPlanckTotal prometheus.Counter

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge

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
		// Node RPC Metrics
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_rpc_calls_total",
				Help: "Total number of node RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "node_rpc_call_duration_seconds",
				Help:    "Duration of node RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"method", "endpoint"},
		),
		endpointAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "node_endpoint_attempts_total",
				Help: "Total number of node connection attempts by endpoint and outcome",
			},
			[]string{"endpoint", "status"},
		),
		endpointDialDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "node_endpoint_dial_duration_seconds",
				Help:    "Duration of node connection handshakes in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint"},
		),

		// Payment Pipeline Metrics
		paymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_total",
				Help: "Total number of payment pipeline runs by terminal state and error kind",
			},
			[]string{"state", "kind"},
		),
		paymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_duration_seconds",
				Help:    "Duration of payment pipeline runs in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"state"},
		),
		pipelineStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_stage_duration_seconds",
				Help:    "Time spent in each payment pipeline state in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		paymentsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payments_in_flight",
				Help: "Number of payment pipeline runs currently executing",
			},
		),
		transferredPlanckTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payments_transferred_planck_total",
				Help: "Total value of confirmed transfers in the smallest chain unit",
			},
		),

		// Database Metrics
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
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
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

// Node RPC metric helpers

// RecordRPCCall records a node RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.rpcCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordEndpointAttempt records one connection attempt against an endpoint.
func (m *Metrics) RecordEndpointAttempt(endpoint, status string, duration float64) {
	m.endpointAttemptsTotal.WithLabelValues(endpoint, status).Inc()
	m.endpointDialDuration.WithLabelValues(endpoint).Observe(duration)
}

// Payment pipeline metric helpers

// RecordPayment records a finished pipeline run. kind is empty on success.
func (m *Metrics) RecordPayment(state, kind string, duration float64) {
	if kind == "" {
		kind = "none"
	}
	m.paymentsTotal.WithLabelValues(state, kind).Inc()
	m.paymentDuration.WithLabelValues(state).Observe(duration)
}

// RecordStageDuration records time spent in one pipeline state.
func (m *Metrics) RecordStageDuration(stage string, duration float64) {
	m.pipelineStageDuration.WithLabelValues(stage).Observe(duration)
}

// PaymentStarted increments the in-flight gauge; call PaymentFinished when done.
func (m *Metrics) PaymentStarted() {
	m.paymentsInFlight.Inc()
}

// PaymentFinished decrements the in-flight gauge.
func (m *Metrics) PaymentFinished() {
	m.paymentsInFlight.Dec()
}

// RecordTransferred adds a confirmed transfer's value in Planck.
func (m *Metrics) RecordTransferred(planck float64) {
	m.transferredPlanckTotal.Add(planck)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
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
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
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
