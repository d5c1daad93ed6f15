// Package web serves a read-only status API for a running greeter.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/andresmejia3/greeter/internal/dispatch"
	"github.com/andresmejia3/greeter/internal/pipeline"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// State is what the API reads from the running pipeline.
type State interface {
	Latest() *pipeline.Snapshot
	Stats() pipeline.Stats
}

// SpeechState exposes dispatcher counters.
type SpeechState interface {
	Stats() dispatch.Stats
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	state      State
	speech     SpeechState
	feed       *Feed
	logger     logrus.FieldLogger
	started    time.Time
}

// NewServer creates a new status server listening on addr.
func NewServer(addr string, state State, speech SpeechState, feed *Feed, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := chi.NewRouter()
	s := &Server{
		router:  r,
		state:   state,
		speech:  speech,
		feed:    feed,
		logger:  logger.WithField("component", "web"),
		started: time.Now(),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(10 * time.Second))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("status API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
