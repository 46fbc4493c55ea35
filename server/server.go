// Package server exposes the consultation pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edmondsbay/consult/dialog"
	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/memory"
	"github.com/edmondsbay/consult/pipeline"
	"github.com/edmondsbay/consult/pkg/logging"
)

// Config holds server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RequestsPerMinute bounds each client IP. Zero disables limiting.
	RequestsPerMinute int
	Logger            *slog.Logger
}

// DefaultConfig returns the standard server settings.
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RequestsPerMinute: 60,
	}
}

// Server routes HTTP traffic to the orchestrator.
type Server struct {
	cfg          *Config
	orchestrator *pipeline.Orchestrator
	memory       *memory.Manager
	logger       *slog.Logger
	httpServer   *http.Server
}

// New builds the server and its routes.
func New(cfg *Config, orchestrator *pipeline.Orchestrator, mem *memory.Manager, registry *prometheus.Registry) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("server")
	}
	s := &Server{
		cfg:          cfg,
		orchestrator: orchestrator,
		memory:       mem,
		logger:       logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/chat", s.handleChat).Methods(http.MethodPost)
	router.HandleFunc("/v1/conversations/{id}", s.handleConversation).Methods(http.MethodGet)
	router.HandleFunc("/v1/conversations/{id}", s.handleForget).Methods(http.MethodDelete)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if registry != nil {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	} else {
		router.Handle("/metrics", promhttp.Handler())
	}

	var handler http.Handler = router
	if cfg.RequestsPerMinute > 0 {
		handler = newRateLimiter(cfg.RequestsPerMinute, logger).wrap(handler)
	}
	handler = requestLogger(logger)(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// chatRequest is the consultation request payload.
type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// chatResponse mirrors the caller-facing contract: final text, the routing
// label, and the degraded flag. Intermediate attempts stay internal.
type chatResponse struct {
	Text           string             `json:"text"`
	Intent         dialog.IntentLabel `json:"intent"`
	Degraded       bool               `json:"degraded"`
	AttemptsUsed   int                `json:"attempts_used"`
	Confidence     float64            `json:"confidence"`
	ConversationID string             `json:"conversation_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.ConversationID == "" {
		s.writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	resp, err := s.orchestrator.Consult(r.Context(), req.ConversationID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			// client is gone; nothing to write
			return
		case errors.Is(err, consulterrors.ErrInvalidInput):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, consulterrors.ErrAttemptsExhausted):
			s.writeError(w, http.StatusServiceUnavailable, "unable to produce an answer, please retry")
		default:
			s.logger.Error("consultation failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		Text:           resp.Text,
		Intent:         resp.Intent,
		Degraded:       resp.Degraded,
		AttemptsUsed:   resp.AttemptsUsed,
		Confidence:     resp.Confidence,
		ConversationID: resp.ConversationID,
	})
}

// conversationResponse lists the stored turns for one conversation.
type conversationResponse struct {
	ConversationID string        `json:"conversation_id"`
	Turns          []dialog.Turn `json:"turns"`
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	history, err := s.memory.Fetch(r.Context(), id)
	if err != nil {
		s.logger.Error("history fetch failed", "conversation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: id,
		Turns:          history.Turns,
	})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.memory.Forget(r.Context(), id); err != nil {
		s.logger.Error("forget failed", "conversation_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
