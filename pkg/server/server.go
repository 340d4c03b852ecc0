// Package server exposes the engine over HTTP: one orchestration
// endpoint per agent flavour plus the failure, feedback, and session
// ancillary endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/answerdesk/answerdesk/pkg/accounting"
	"github.com/answerdesk/answerdesk/pkg/config"
	"github.com/answerdesk/answerdesk/pkg/observability"
	"github.com/answerdesk/answerdesk/pkg/orchestrator"
	"github.com/answerdesk/answerdesk/pkg/ratelimit"
	"github.com/answerdesk/answerdesk/pkg/session"
)

// Server is the HTTP transport over the orchestrator.
type Server struct {
	cfg        *config.Config
	orch       *orchestrator.Orchestrator
	limiter    *ratelimit.Limiter
	sessions   *session.Store
	accountant *accounting.Accountant
	failures   *failureStore
	feedback   *feedbackStore
	logger     *slog.Logger

	httpSrv *http.Server
}

// New builds the server and its router.
func New(
	cfg *config.Config,
	orch *orchestrator.Orchestrator,
	limiter *ratelimit.Limiter,
	sessions *session.Store,
	accountant *accounting.Accountant,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:        cfg,
		orch:       orch,
		limiter:    limiter,
		sessions:   sessions,
		accountant: accountant,
		failures:   newFailureStore(),
		feedback:   newFeedbackStore(),
		logger:     logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.logRequests)
	router.Use(middleware.Recoverer)

	router.Route("/api", func(r chi.Router) {
		r.Post("/agent/{flavour}/", s.handleAgentQuery)
		r.Post("/agent-failure/", s.handleFailureCreate)
		r.Post("/agent-failure/{id}/create-ticket", s.handleFailureTicket)
		r.Patch("/agent-failure/{id}/decline", s.handleFailureDecline)
		r.Post("/feedback/", s.handleFeedback)
		r.Post("/sessions/end", s.handleEndSession)
		r.Get("/sessions/{id}/usage", s.handleSessionUsage)
	})
	router.Get("/health", s.handleHealth)
	if cfg.Metrics.Enabled {
		router.Handle("/metrics", observability.Handler())
	}

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
	return s
}

// Handler returns the router (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
