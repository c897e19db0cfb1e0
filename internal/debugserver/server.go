package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"voicechat/internal/domain"
)

// SessionReader exposes the controller read models.
type SessionReader interface {
	Session() domain.Session
	Transcript() []domain.TranscriptEntry
	Logs() []domain.LogEntry
	Voices() []domain.VoiceOption
}

// Server is a local diagnostics endpoint: prometheus metrics plus JSON
// snapshots of the session.
type Server struct {
	reader  SessionReader
	metrics http.Handler
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

func New(reader SessionReader, metrics http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		reader:  reader,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "debugserver")),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}
	r.Route("/debug", func(r chi.Router) {
		r.Get("/session", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, s.reader.Session())
		})
		r.Get("/transcript", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, nonNil(s.reader.Transcript()))
		})
		r.Get("/logs", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, nonNil(s.reader.Logs()))
		})
		r.Get("/voices", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, nonNil(s.reader.Voices()))
		})
	})
	return r
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("debug server stopped", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("debug server listening", slog.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
