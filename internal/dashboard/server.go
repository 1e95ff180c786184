// Package dashboard exposes the read-side HTTP API: persisted session
// list/detail/delete, stored audio as static files, service stats, health
// and Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AndrewMead10/discord-call-transcriber/internal/capture"
	"github.com/AndrewMead10/discord-call-transcriber/internal/metrics"
	"github.com/AndrewMead10/discord-call-transcriber/internal/store"
	"github.com/AndrewMead10/discord-call-transcriber/internal/transcribe"
)

// Config contains dashboard server configuration.
type Config struct {
	Address   string
	Port      int
	AudioRoot string // storage root served under /audio/
}

// Server serves the dashboard API.
type Server struct {
	server    *http.Server
	logger    *slog.Logger
	config    Config
	sessions  *store.Store
	registry  *capture.Manager
	uploads   *transcribe.Client
	metrics   *metrics.Metrics
	startTime time.Time
}

// NewServer creates the dashboard server. sessions may be nil when
// persistence is disabled; the session endpoints then return 503.
func NewServer(cfg Config, logger *slog.Logger, sessions *store.Store, registry *capture.Manager, uploads *transcribe.Client, m *metrics.Metrics) *Server {
	s := &Server{
		logger:    logger,
		config:    cfg,
		sessions:  sessions,
		registry:  registry,
		uploads:   uploads,
		metrics:   m,
		startTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(s.withMetrics)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Delete("/sessions/{id}", s.handleDeleteSession)
	r.Handle("/metrics", promhttp.Handler())

	if cfg.AudioRoot != "" {
		fileServer := http.StripPrefix("/audio/", http.FileServer(http.Dir(cfg.AudioRoot)))
		r.Get("/audio/*", fileServer.ServeHTTP)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the configured HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// withMetrics records request counts, durations and errors per endpoint.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		startTime := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil && routeCtx.RoutePattern() != "" {
			endpoint = routeCtx.RoutePattern()
		}

		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(startTime).Seconds())
		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"active_sessions": s.registry.ActiveSessionCount(),
		"active_contexts": s.registry.ActiveContexts(),
	}
	if s.uploads != nil {
		stats["transcription"] = s.uploads.GetStats()
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := s.sessions.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list sessions", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	id := chi.URLParam(r, "id")
	detail, err := s.sessions.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to get session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}

	id := chi.URLParam(r, "id")
	err := s.sessions.DeleteSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("Failed to delete session",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	s.logger.Info("Session deleted", slog.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.Info("Starting dashboard API server", slog.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Dashboard server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping dashboard API server...")
	return s.server.Shutdown(ctx)
}
