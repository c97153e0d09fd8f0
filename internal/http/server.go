// Package http exposes the ledger commands and cycle views as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/ledger"
	"bilancio/internal/log"
	"bilancio/internal/services"
)

// Forwarder closes a completed billing cycle by booking roll-over entries.
type Forwarder interface {
	Forward(ctx context.Context, req services.ForwardRequest) error
}

type Server struct {
	http.Server
	ledger    *ledger.Service
	forwarder Forwarder
	logger    *log.Logger
	reqLog    *log.RequestLogger

	rateLimiter *rateLimiter
	metrics     *securityMetrics

	// Overview responses are cached per cycle; any ledger change purges the
	// whole cache since a single transaction can shift several views.
	overviewCache *cache.LRU[core.CycleOverview]

	stopInvalidation chan struct{}
	shutdownOnce     sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, lg *ledger.Service, fw Forwarder, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ledger:           lg,
		forwarder:        fw,
		logger:           logger.WithComponent(log.ComponentHTTP),
		reqLog:           log.NewRequestLogger(logger),
		rateLimiter:      newRateLimiter(),
		metrics:          &securityMetrics{},
		overviewCache:    cache.NewLRU[core.CycleOverview](100, 5*time.Minute),
		stopInvalidation: make(chan struct{}),
	}

	// Every request gets a context logger; withRequest replaces it with a
	// request-scoped one for the API routes.
	s.Server.Handler = log.Middleware(s.logger)(mux)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.HandleFunc("GET /debug/metrics", s.handleMetrics)

	mux.HandleFunc("GET /api/session", s.withRequest(s.handleSession))
	mux.HandleFunc("GET /api/categories", s.withRequest(s.handleListCategories))
	mux.HandleFunc("POST /api/categories", s.withRequest(s.handleCreateCategory))
	mux.HandleFunc("DELETE /api/categories/{id}", s.withRequest(s.handleDeleteCategory))
	mux.HandleFunc("GET /api/transactions", s.withRequest(s.handleListTransactions))
	mux.HandleFunc("POST /api/transactions", s.withRequest(s.handleCreateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withRequest(s.handleDeleteTransaction))
	mux.HandleFunc("GET /api/overview", s.withRequest(s.handleOverview))
	mux.HandleFunc("POST /api/forward", s.withRequest(s.handleForward))
	mux.HandleFunc("GET /api/cycle", s.withRequest(s.handleGetCycle))
	mux.HandleFunc("GET /api/cycle/label", s.withRequest(s.handleCycleLabel))
	mux.HandleFunc("PUT /api/cycle", s.withRequest(s.handlePutCycle))

	go s.watchLedger()

	return s
}

// watchLedger purges the overview cache whenever the projections change.
func (s *Server) watchLedger() {
	updates := s.ledger.Subscribe()
	for {
		select {
		case <-updates:
			s.overviewCache.Purge()
		case <-s.stopInvalidation:
			return
		}
	}
}

// Shutdown stops the background routines before draining the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.stopInvalidation)
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withRequest wraps a handler with client IP extraction, rate limiting on
// mutating methods, security headers and request logging.
func (s *Server) withRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := extractClientIP(r)

		ctx := context.WithValue(r.Context(), log.LoggerContextKey, s.logger.With(log.FieldRequestID, generateRequestID()))
		r = r.WithContext(ctx)

		s.reqLog.LogStart(ctx, r, clientIP)

		if detectSuspiciousRequest(r, s.metrics) {
			s.logger.WarnContext(ctx, "Suspicious request",
				log.FieldClientIP, clientIP, log.FieldPath, r.URL.Path)
		}

		mutating := r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete
		if mutating && !s.rateLimiter.allow(clientIP, s.metrics) {
			s.logger.WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP, log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.reqLog.LogEnd(ctx, r, rw.statusCode, time.Since(start).Milliseconds(), clientIP)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleMetrics exposes the security counters for operational checks.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics.snapshot()
	NewResponse().JSON(map[string]int64{
		"rate_limit_hits":     m.rateLimitHits,
		"suspicious_requests": m.suspiciousRequests,
	}).Write(w)
}
