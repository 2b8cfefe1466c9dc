package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gasScope/internal/aggregate"
	"gasScope/internal/model"
)

const (
	DefaultStaleAfter      = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

// Run is the in-process collection run observed by the server.
type Run interface {
	Progress() model.CollectionProgress
	LastHeartbeat() time.Time
	Stalled(maxAge time.Duration) bool
	RequestStop()
}

// ReportFunc builds the current report document.
type ReportFunc func(ctx context.Context) (aggregate.Report, error)

// Config holds server settings.
type Config struct {
	Addr            string
	StaleAfter      time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server exposes health, metrics, progress, stop and report endpoints.
type Server struct {
	cfg    Config
	run    Run
	report ReportFunc
	logger *zap.Logger
	router *chi.Mux
	server *http.Server
}

// New builds a Server. run and report are optional.
func New(cfg Config, run Run, report ReportFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		cfg:    cfg,
		run:    run,
		report: report,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/progress", s.handleProgress)
	s.router.Post("/stop", s.handleStop)
	s.router.Get("/report", s.handleReport)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	State         string `json:"state,omitempty"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if s.run != nil {
		response.State = string(s.run.Progress().State)
		response.LastHeartbeat = s.run.LastHeartbeat().UTC().Format(time.RFC3339)
		if s.run.Stalled(s.cfg.StaleAfter) {
			response.Status = "stalled"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, response)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		writeError(w, http.StatusNotFound, "no collection run")
		return
	}
	writeJSON(w, http.StatusOK, s.run.Progress())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.run == nil {
		writeError(w, http.StatusNotFound, "no collection run")
		return
	}
	s.run.RequestStop()
	s.logger.Info("stop requested", zap.String("remote_addr", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		writeError(w, http.StatusNotFound, "report not configured")
		return
	}
	report, err := s.report(r.Context())
	if err != nil {
		s.logger.Error("build report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "build report failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting ops server", zap.String("address", s.cfg.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("ops server stopped")
	return nil
}

// Router returns the underlying chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}
		return http.HandlerFunc(fn)
	}
}
