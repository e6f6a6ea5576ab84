// Package api exposes the what-if sandbox over HTTP and WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gains-sandbox-go/internal/config"
	"gains-sandbox-go/internal/ledger"
	"gains-sandbox-go/internal/notify"
	"gains-sandbox-go/internal/session"

	"go.uber.org/zap"
)

// Server serves the sandbox API.
type Server struct {
	server   *http.Server
	sessions *session.Manager
	ledger   ledger.Ledger
	bus      notify.Bus
	logger   *zap.Logger

	// subscribeTimeout bounds how long a WebSocket waits for its subscription.
	subscribeTimeout time.Duration
}

// NewServer creates a Server listening on cfg.Port.
func NewServer(cfg config.Server, sessions *session.Manager, l ledger.Ledger, bus notify.Bus, logger *zap.Logger) *Server {
	s := &Server{
		sessions: sessions,
		ledger:   l,
		bus:      bus,
		logger:   logger.Named("api-server"),

		subscribeTimeout: writeWait,
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/what-if/sessions", s.createSessionHandler)
	mux.HandleFunc("GET /api/what-if/sessions/{id}/status", s.statusHandler)
	mux.HandleFunc("DELETE /api/what-if/sessions/{id}", s.cancelHandler)
	mux.HandleFunc("GET /api/trades", s.tradesHandler)
	mux.HandleFunc("GET /ws/sandbox", s.sandboxWSHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}
