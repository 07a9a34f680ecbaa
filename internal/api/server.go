// Package api exposes the engine over HTTP and WebSocket: order submission
// and queries as JSON endpoints, per-order lifecycle streams over WebSocket,
// and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swap-router/internal/config"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes. Pass the Prometheus gatherer backing the stats
// registry so /metrics serves the engine's counters.
func NewServer(cfg config.ServerConfig, handlers *Handlers, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("POST /api/orders", handlers.HandleCreateOrder)
	mux.HandleFunc("GET /api/orders", handlers.HandleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.HandleGetOrder)
	mux.HandleFunc("POST /api/orders/{id}/execute", handlers.HandleExecuteOrder)
	mux.HandleFunc("POST /api/orders/{id}/cancel", handlers.HandleCancelOrder)
	mux.HandleFunc("GET /api/stats", handlers.HandleStats)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
