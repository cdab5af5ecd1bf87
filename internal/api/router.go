package api

import (
	"context"
	"net/http"
	"time"

	"flood-duel/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

//go:generate mockgen -destination=mocks/mock_controller.go -package=mocks flood-duel/internal/api Controller

// Controller is the slice of the session engine the API drives.
// *game.Engine satisfies it; tests substitute a mock.
type Controller interface {
	// Snapshot returns the latest published state. Never nil.
	Snapshot() *game.Snapshot
	// History returns every declared outcome.
	History(ctx context.Context) ([]game.VictoryRecord, error)
	// Health reports whether commands can be served.
	Health() error
	// Join admits a new player. A name held by any player is refused.
	Join(ctx context.Context, name string, isHost bool) (int, error)
	// Rejoin reattaches a dropped player by id and current name.
	Rejoin(ctx context.Context, id int, name string) (int, error)
	// Disconnect reports that a player dropped.
	Disconnect(ctx context.Context, id int) error
	// Execute applies a participant command.
	Execute(ctx context.Context, cmd game.Command) error
	// Reset starts a new round once the session is over.
	Reset(ctx context.Context) error
	// ForcePhase moves the session to any phase.
	ForcePhase(ctx context.Context, to game.Phase) error
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Controller: engine,
//	    Seats:      seats,
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	ts := httptest.NewServer(api.NewRouter(cfg))
type RouterConfig struct {
	// Controller is the session engine (required)
	Controller Controller

	// Seats signs player seat tokens (required)
	Seats *SeatSigner

	// AdminToken guards /api/session routes. Empty leaves them open.
	AdminToken string

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CommandLimiter throttles commands per seat. If nil, uses DefaultCommandLimitConfig.
	CommandLimiter *CommandLimiter

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses DefaultAllowedOrigins.
	CORSOrigins []string

	// RequestTimeout bounds how long a handler waits on the engine.
	RequestTimeout time.Duration

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool

	Logger *zap.Logger
}

// DefaultRequestTimeout is used when RouterConfig.RequestTimeout is zero.
const DefaultRequestTimeout = 2 * time.Second

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	ctrl     Controller
	seats    *SeatSigner
	commands *CommandLimiter
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRouter constructs the HTTP router with all middleware and routes.
// WebSocket routes are added by Server, which owns the hub.
func NewRouter(cfg RouterConfig) *chi.Mux {
	h := newRouterHandlers(cfg)

	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RequestID)
	if !cfg.DisableLogging {
		r.Use(requestLogger(h.logger))
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   NewOriginMatcher(cfg.CORSOrigins).Patterns(),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/history", h.handleGetHistory)
		r.Get("/health", h.handleHealth)

		r.Post("/players", h.handleJoin)
		r.Route("/players/{id}", func(r chi.Router) {
			r.Use(h.SeatMiddleware)
			r.Delete("/", h.handleLeave)
			r.Post("/ready", h.handleCommand(game.CommandReady))
			r.Post("/build", h.handleCommand(game.CommandBuild))
			r.Post("/attack", h.handleCommand(game.CommandAttack))
			r.Post("/pause", h.handleCommand(game.CommandPause))
			r.Post("/resume", h.handleCommand(game.CommandResume))
			r.Post("/surrender", h.handleCommand(game.CommandSurrender))
			r.Post("/location", h.handleCommand(game.CommandLocation))
			r.Post("/latency", h.handleCommand(game.CommandLatency))
			r.Post("/resources", h.handleCommand(game.CommandResources))
		})

		r.Route("/session", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminToken))
			r.Post("/reset", h.handleReset)
			r.Post("/phase", h.handleForcePhase)
		})
	})

	return r
}

func newRouterHandlers(cfg RouterConfig) *routerHandlers {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	commands := cfg.CommandLimiter
	if commands == nil {
		commands = NewCommandLimiter(DefaultCommandLimitConfig)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &routerHandlers{
		ctrl:     cfg.Controller,
		seats:    cfg.Seats,
		commands: commands,
		timeout:  timeout,
		logger:   logger.Named("api"),
	}
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// metricsMiddleware records latency and status per route pattern, so
// player ids never become label values.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		RecordRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}
