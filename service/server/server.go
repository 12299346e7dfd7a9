package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/voxpay/service/metrics"
	"github.com/brojonat/voxpay/service/temporal"
)

// paymentWriteTimeout covers a synchronous payment waiting for inclusion.
const paymentWriteTimeout = 3 * time.Minute

// Server represents the HTTP server for the payment service.
type Server struct {
	addr         string
	svc          PaymentService
	store        Store
	dispatcher   temporal.Dispatcher
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The store is optional - if nil, history and contact endpoints won't be available.
// The dispatcher is optional - if nil, async payments are rejected.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, svc PaymentService, store Store, dispatcher temporal.Dispatcher, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		svc:          svc,
		store:        store,
		dispatcher:   dispatcher,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		if s.metrics != nil {
			h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
		}
		mux.Handle(pattern, h)
	}

	// Payment routes
	route("POST /api/v1/payments", "/api/v1/payments", handleCreatePayment(s.svc, s.dispatcher, s.logger))
	route("POST /api/v1/intents/parse", "/api/v1/intents/parse", handleParseIntent(s.svc, s.logger))
	route("GET /api/v1/account", "/api/v1/account", handleGetAccount(s.svc, s.logger))

	if s.dispatcher != nil {
		route("GET /api/v1/workflows/{workflow_id}", "/api/v1/workflows/{workflow_id}", handleGetWorkflow(s.dispatcher, s.logger))
	}

	// History and address book routes (if store is configured)
	if s.store != nil {
		route("GET /api/v1/payments", "/api/v1/payments", handleListPayments(s.store, s.logger))
		route("GET /api/v1/payments/{id}", "/api/v1/payments/{id}", handleGetPayment(s.store, s.logger))
		route("GET /api/v1/contacts", "/api/v1/contacts", handleListContacts(s.store, s.logger))
		route("POST /api/v1/contacts", "/api/v1/contacts", handleUpsertContact(s.store, s.logger))
		route("DELETE /api/v1/contacts/{name}", "/api/v1/contacts/{name}", handleDeleteContact(s.store, s.logger))
	} else {
		s.logger.Warn("store not configured, history and contact endpoints disabled")
	}

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/payments", "/api/v1/stream/payments", handleStreamPayments(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: paymentWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"signer", s.svc.Identity().Address(),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
