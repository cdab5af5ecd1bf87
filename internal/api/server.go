package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with the WebSocket hub for real-time updates.
type Server struct {
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
	logger      *zap.Logger

	mu   sync.Mutex
	http *http.Server
}

// NewServer creates the API server. The HTTP routes and the WebSocket hub
// share one rate limiter and one command limiter.
//
// Background workers do NOT start until Start() is called, so tests can
// construct the server and use Router() directly.
func NewServer(cfg RouterConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		cfg.RateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	if cfg.CommandLimiter == nil {
		cfg.CommandLimiter = NewCommandLimiter(DefaultCommandLimitConfig)
	}

	s := &Server{
		router:      NewRouter(cfg),
		wsHub:       NewWebSocketHub(cfg),
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger.Named("server"),
	}
	s.router.Get("/ws", s.wsHub.HandleWebSocket)
	return s
}

// Start starts the hub and serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.wsHub.Start()

	s.mu.Lock()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("api server starting", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub, which doubles as a replication sink.
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Shutdown stops accepting requests, closes WebSocket clients and stops
// the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wsHub.Stop()
	s.rateLimiter.Stop()
	return err
}
