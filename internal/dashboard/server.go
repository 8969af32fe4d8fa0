// Package dashboard serves a small JSON status API over the engine's
// published read model, plus the Prometheus metrics endpoint. It never
// touches loop-owned state directly.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/neuralprobe/D4/internal/broker"
	"github.com/neuralprobe/D4/internal/engine"
)

// StatusSource supplies the engine's last published snapshot.
type StatusSource interface {
	Status() engine.Status
}

// Config carries the server settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the status HTTP server. The broker is optional; without it
// the account endpoint reports the venue session as unknown.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	source    StatusSource
	broker    broker.Broker
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer wires the routes. source must not be nil.
func NewServer(cfg Config, source StatusSource, b broker.Broker, logger *logrus.Logger) *Server {
	if source == nil {
		panic("dashboard.NewServer: status source must not be nil")
	}
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		source:    source,
		broker:    b,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/account", s.handleAccount)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/decisions", s.handleDecisions)
	s.router.Handle("/metrics", promhttp.Handler())
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting status server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.source.Status())
}

func (s *Server) handleAccount(w http.ResponseWriter, _ *http.Request) {
	status := s.source.Status()
	payload := map[string]any{
		"time":        status.Time,
		"cash":        status.Cash,
		"holdings":    status.Holdings,
		"total_value": status.TotalValue,
		"positions":   len(status.Positions),
		"market_open": s.marketOpen(),
	}
	s.writeJSON(w, payload)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.source.Status().Positions)
}

func (s *Server) handleDecisions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.source.Status().Decisions)
}

// marketOpen asks the venue; nil broker or a failed call reads as
// closed rather than erroring the whole endpoint.
func (s *Server) marketOpen() bool {
	if s.broker == nil {
		return false
	}
	clk, err := s.broker.GetClock()
	if err != nil {
		s.logger.WithError(err).Warn("Venue clock unavailable")
		return false
	}
	return clk.IsOpen
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Encoding response")
	}
}
