// Package api exposes the orchestration core over HTTP and WebSocket.
// All JSON endpoints live under /api/v1; /ws/workflows/{id} streams
// per-workflow events in publish order.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/aurora-dev/aurora/internal/core"
	"github.com/aurora-dev/aurora/internal/events"
	"github.com/aurora-dev/aurora/internal/logging"
)

// Service is the workflow control surface the handlers call into.
// Satisfied by the orchestrator.
type Service interface {
	StartWorkflow(ctx context.Context, project *core.Project, mode core.Mode) (*core.Workflow, error)
	Workflow(ctx context.Context, id core.WorkflowID) (*core.Workflow, error)
	ResolveApproval(ctx context.Context, id core.WorkflowID, record core.ApprovalRecord) (*core.Workflow, error)
	Pause(ctx context.Context, id core.WorkflowID, reason string) (*core.Workflow, error)
	Resume(ctx context.Context, id core.WorkflowID) (*core.Workflow, error)
	Cancel(ctx context.Context, id core.WorkflowID, reason string) (*core.Workflow, error)
}

// StatsSource supplies the dashboard aggregation inputs.
type StatsSource interface {
	AgentStats() []core.AgentStats
	BudgetStats() BudgetStats
}

// BudgetStats is the ledger slice exposed on the dashboard.
type BudgetStats struct {
	DailySpentUSD   float64 `json:"daily_spent_usd"`
	DailyCapUSD     float64 `json:"daily_cap_usd"`
	MonthlySpentUSD float64 `json:"monthly_spent_usd"`
	MonthlyCapUSD   float64 `json:"monthly_cap_usd"`
	ReservedUSD     float64 `json:"reserved_usd"`
}

// Config holds the server configuration.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"http://localhost:5173"},
	}
}

// Server is the HTTP front of the orchestration core.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	config     Config
	log        *logging.Logger

	svc   Service
	state core.StateManager
	bus   *events.Bus
	stats StatsSource
}

// New creates a server over the given collaborators. stats may be nil;
// the dashboard then omits agent and budget sections.
func New(cfg Config, svc Service, state core.StateManager, bus *events.Bus, stats StatsSource, log *logging.Logger) *Server {
	s := &Server{
		config: cfg,
		log:    log,
		svc:    svc,
		state:  state,
		bus:    bus,
		stats:  stats,
	}
	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workflows", func(r chi.Router) {
			r.Post("/", s.handleStartWorkflow)
			r.Get("/pending-approvals", s.handlePendingApprovals)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/state", s.handleWorkflowState)
				r.Post("/approval", s.handleApproval)
				r.Post("/pause", s.handlePause)
				r.Post("/resume", s.handleResume)
				r.Post("/cancel", s.handleCancel)
			})
		})
		r.Get("/dashboard/stats", s.handleDashboardStats)
	})

	if s.bus != nil {
		r.Get("/ws/workflows/{id}", s.handleWorkflowSocket)
	}
	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()))
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Start begins serving without blocking.
func (s *Server) Start() error {
	s.log.Info("starting http server", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server error", "error", err.Error())
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// Router returns the chi router, used by tests with httptest.
func (s *Server) Router() chi.Router { return s.router }
