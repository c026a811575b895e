// Package api exposes the HTTP interface for the acquisition pipeline.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webharvest/harvester/internal/content"
	"github.com/webharvest/harvester/internal/metrics"
	"github.com/webharvest/harvester/internal/pipeline"
)

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router      chi.Router
	pipe        *pipeline.Orchestrator
	storageRoot string
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(pipe *pipeline.Orchestrator, storageRoot string, logger *zap.Logger) *Server {
	s := &Server{
		pipe:        pipe,
		storageRoot: storageRoot,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/fetch", s.fetch)
		r.Post("/batch", s.batch)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type fetchRequest struct {
	Target       string `json:"target"`
	Destination  string `json:"destination"`
	SaveMedia    bool   `json:"save_media"`
	OutputFormat string `json:"output_format"`
	ForcePersist bool   `json:"force_persist"`
	Credentials  string `json:"credentials"`
}

type batchRequest struct {
	Targets      []string `json:"targets"`
	Destination  string   `json:"destination"`
	SaveMedia    bool     `json:"save_media"`
	OutputFormat string   `json:"output_format"`
	ForcePersist bool     `json:"force_persist"`
	Credentials  string   `json:"credentials"`
}

func (s *Server) fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Target == "" {
		s.writeError(w, http.StatusBadRequest, "target required")
		return
	}
	opts, err := s.toOptions(req.OutputFormat, req.SaveMedia, req.ForcePersist, req.Credentials)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok := s.pipe.Fetch(r.Context(), req.Target, s.destination(req.Destination), opts)
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, map[string]any{"target": req.Target, "ok": ok})
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Targets) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one target required")
		return
	}
	opts, err := s.toOptions(req.OutputFormat, req.SaveMedia, req.ForcePersist, req.Credentials)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report := s.pipe.BatchFetch(r.Context(), req.Targets, s.destination(req.Destination), opts)
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) toOptions(format string, saveMedia, forcePersist bool, credentials string) (pipeline.Options, error) {
	opts := pipeline.Options{
		SaveMedia:    saveMedia,
		ForcePersist: forcePersist,
		Credentials:  credentials,
	}
	switch format {
	case "", string(content.FormatMarkdown):
		opts.OutputFormat = content.FormatMarkdown
	case string(content.FormatText):
		opts.OutputFormat = content.FormatText
	default:
		return pipeline.Options{}, errInvalidFormat(format)
	}
	return opts, nil
}

func (s *Server) destination(requested string) string {
	if requested != "" {
		return requested
	}
	return s.storageRoot
}

type errInvalidFormat string

func (e errInvalidFormat) Error() string {
	return "unsupported output_format " + string(e)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
