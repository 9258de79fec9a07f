package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/brojonat/mintpay/service/metrics"
	"github.com/brojonat/mintpay/service/payment"
	"github.com/brojonat/mintpay/service/ratelimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a backing dependency is reachable.
// *db.Store implements it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server for the payment API.
type Server struct {
	addr    string
	svc     *payment.Service
	health  HealthChecker
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The health checker, limiter and metrics are optional. Without a limiter,
// create-intent and the transaction builders are not rate limited.
func New(addr string, svc *payment.Service, health HealthChecker, limiter *ratelimit.Limiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		svc:     svc,
		health:  health,
		limiter: limiter,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler. Every payment route is served both at
// the root and under /api so browser clients can keep their existing paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	perIP := func(route string) func(http.Handler) http.Handler {
		return ratelimit.Middleware(s.limiter, route, ratelimit.ClientIP, s.metrics, s.logger)
	}

	routes := []struct {
		pattern string
		handler http.Handler
		limit   bool
	}{
		{"POST /payments/create-intent", handleCreateIntent(s.svc, s.limiter, s.metrics, s.logger), false},
		{"POST /payments/build-tx", handleBuildTransfer(s.svc, s.logger), true},
		{"POST /payments/confirm", handleConfirm(s.svc, s.logger), false},
		{"GET /payments/status", handleStatus(s.svc, s.logger), false},
		{"GET /payments/{id}", handleGetPayment(s.svc, s.logger), false},
		{"GET /payments", handleListPayments(s.svc, s.logger), false},
		{"POST /pricing/quote", handleQuote(s.svc, s.logger), false},
		{"GET /pricing/models", handleListModels(s.svc), false},
		{"POST /mint/start", handleStartMint(s.svc, s.logger), true},
		{"GET /mints", handleListMints(s.svc, s.logger), false},
	}
	for _, rt := range routes {
		h := rt.handler
		if rt.limit {
			h = perIP(rt.pattern)(h)
		}
		h = metrics.HTTPMetricsMiddleware(s.metrics, rt.pattern)(h)
		mux.Handle(rt.pattern, h)

		method, path, _ := strings.Cut(rt.pattern, " ")
		mux.Handle(method+" /api"+path, h)
	}

	mux.Handle("GET /health", handleHealth(s.health, s.logger))

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// Confirm may hold the request for the whole confirmation budget.
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
