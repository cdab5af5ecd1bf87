package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the IP-based rate limiter
type RateLimitConfig struct {
	RequestsPerSecond float64       // Requests allowed per second per IP
	Burst             int           // Maximum burst size
	CleanupInterval   time.Duration // How often to clean up stale limiters
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 10,
	Burst:             20,
	CleanupInterval:   5 * time.Minute,
}

// limiterEntry tracks one key's token bucket and when it was last used.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// keyedLimiters is a sync.Map of token buckets that forgets idle keys.
type keyedLimiters[K comparable] struct {
	entries sync.Map // map[K]*limiterEntry
	limit   rate.Limit
	burst   int
}

func (k *keyedLimiters[K]) get(key K) *rate.Limiter {
	now := time.Now().UnixNano()
	if v, ok := k.entries.Load(key); ok {
		e := v.(*limiterEntry)
		e.lastSeen.Store(now)
		return e.limiter
	}

	e := &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
	e.lastSeen.Store(now)
	actual, _ := k.entries.LoadOrStore(key, e)
	return actual.(*limiterEntry).limiter
}

func (k *keyedLimiters[K]) sweep(cutoff time.Time) int {
	removed := 0
	k.entries.Range(func(key, value any) bool {
		if value.(*limiterEntry).lastSeen.Load() < cutoff.UnixNano() {
			k.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

func (k *keyedLimiters[K]) forget(key K) { k.entries.Delete(key) }

func (k *keyedLimiters[K]) size() int {
	n := 0
	k.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

// IPRateLimiter provides IP-based rate limiting for HTTP requests
type IPRateLimiter struct {
	buckets  keyedLimiters[string]
	config   RateLimitConfig
	stopChan chan struct{}
	stopOnce sync.Once

	rejectedCount atomic.Uint64
	allowedCount  atomic.Uint64
}

// NewIPRateLimiter creates a new IP-based rate limiter and starts its
// cleanup goroutine. Call Stop to release it.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimitConfig.CleanupInterval
	}
	rl := &IPRateLimiter{
		buckets:  keyedLimiters[string]{limit: rate.Limit(cfg.RequestsPerSecond), burst: cfg.Burst},
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop stops the rate limiter cleanup goroutine
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopChan)
	})
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.buckets.sweep(time.Now().Add(-rl.config.CleanupInterval * 2))
		}
	}
}

// Allow checks if a request from the given IP should be allowed
func (rl *IPRateLimiter) Allow(ip string) bool {
	if rl.buckets.get(ip).Allow() {
		rl.allowedCount.Add(1)
		return true
	}
	rl.rejectedCount.Add(1)
	return false
}

// Middleware returns an HTTP middleware for rate limiting
func (rl *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(GetClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetStats returns rate limiter statistics
func (rl *IPRateLimiter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"allowed":  rl.allowedCount.Load(),
		"rejected": rl.rejectedCount.Load(),
	}
}

// =============================================================================
// PER-PLAYER COMMAND LIMITING
// =============================================================================

// CommandLimitConfig bounds how fast one seat may issue commands.
type CommandLimitConfig struct {
	PerSecond float64
	Burst     int
	IdleAfter time.Duration // Limiters unused this long are swept
}

// DefaultCommandLimitConfig allows steady building with short attack bursts.
var DefaultCommandLimitConfig = CommandLimitConfig{
	PerSecond: 20,
	Burst:     40,
	IdleAfter: 5 * time.Minute,
}

// CommandLimiter throttles commands per player id, shared by the HTTP
// command routes and the WebSocket intake.
type CommandLimiter struct {
	buckets   keyedLimiters[int]
	idleAfter time.Duration
	lastSweep atomic.Int64
	rejected  atomic.Uint64
}

// NewCommandLimiter creates a limiter. Idle entries are swept lazily from
// Allow, so there is no goroutine to stop.
func NewCommandLimiter(cfg CommandLimitConfig) *CommandLimiter {
	if cfg.PerSecond <= 0 {
		cfg.PerSecond = DefaultCommandLimitConfig.PerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultCommandLimitConfig.Burst
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultCommandLimitConfig.IdleAfter
	}
	cl := &CommandLimiter{
		buckets:   keyedLimiters[int]{limit: rate.Limit(cfg.PerSecond), burst: cfg.Burst},
		idleAfter: cfg.IdleAfter,
	}
	cl.lastSweep.Store(time.Now().UnixNano())
	return cl
}

// Allow reports whether player id may issue another command now.
func (cl *CommandLimiter) Allow(id int) bool {
	cl.maybeSweep()
	if cl.buckets.get(id).Allow() {
		return true
	}
	cl.rejected.Add(1)
	return false
}

// Forget drops a player's bucket, e.g. when the seat is released.
func (cl *CommandLimiter) Forget(id int) { cl.buckets.forget(id) }

// Tracked returns how many players currently hold a bucket.
func (cl *CommandLimiter) Tracked() int { return cl.buckets.size() }

// Rejected returns how many commands were throttled.
func (cl *CommandLimiter) Rejected() uint64 { return cl.rejected.Load() }

func (cl *CommandLimiter) maybeSweep() {
	last := cl.lastSweep.Load()
	now := time.Now()
	if now.UnixNano()-last < int64(cl.idleAfter) {
		return
	}
	if cl.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		cl.buckets.sweep(now.Add(-cl.idleAfter))
	}
}

// =============================================================================
// CLIENT IDENTITY
// =============================================================================

// GetClientIP extracts the client IP from an HTTP request
// Handles X-Forwarded-For header for proxied requests
func GetClientIP(r *http.Request) string {
	// CAUTION: forwarded headers can be spoofed if not behind a trusted proxy
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// WebSocketRateLimiter limits concurrent WebSocket connections per IP
type WebSocketRateLimiter struct {
	connections sync.Map // map[string]*atomic.Int32
	maxPerIP    int

	rejectedCount atomic.Uint64
}

// NewWebSocketRateLimiter creates a WebSocket connection limiter
func NewWebSocketRateLimiter(maxPerIP int) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{maxPerIP: maxPerIP}
}

// Allow checks if a new WebSocket connection from this IP is allowed
func (wrl *WebSocketRateLimiter) Allow(ip string) bool {
	actual, _ := wrl.connections.LoadOrStore(ip, new(atomic.Int32))
	counter := actual.(*atomic.Int32)

	for {
		current := counter.Load()
		if int(current) >= wrl.maxPerIP {
			wrl.rejectedCount.Add(1)
			return false
		}
		if counter.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Release decrements the connection count for this IP
func (wrl *WebSocketRateLimiter) Release(ip string) {
	if val, ok := wrl.connections.Load(ip); ok {
		val.(*atomic.Int32).Add(-1)
	}
}

// GetConnectionCount returns current connection count for an IP
func (wrl *WebSocketRateLimiter) GetConnectionCount(ip string) int {
	if val, ok := wrl.connections.Load(ip); ok {
		return int(val.(*atomic.Int32).Load())
	}
	return 0
}

// DefaultAllowedOrigins is used when no CORS origins are configured.
var DefaultAllowedOrigins = []string{
	"http://localhost",
	"http://localhost:*",
	"http://127.0.0.1:*",
}

// OriginMatcher checks browser origins against a list of patterns. A
// pattern may hold one "*" wildcard, e.g. "https://*.example.com".
type OriginMatcher struct {
	patterns []string
}

// NewOriginMatcher builds a matcher; an empty list falls back to
// DefaultAllowedOrigins.
func NewOriginMatcher(patterns []string) *OriginMatcher {
	if len(patterns) == 0 {
		patterns = DefaultAllowedOrigins
	}
	return &OriginMatcher{patterns: patterns}
}

// Patterns returns the configured patterns.
func (m *OriginMatcher) Patterns() []string { return m.patterns }

// Allowed reports whether origin matches. Requests without an Origin header
// come from non-browser clients and are allowed.
func (m *OriginMatcher) Allowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, p := range m.patterns {
		if p == "*" || p == origin {
			return true
		}
		prefix, suffix, ok := strings.Cut(p, "*")
		if ok && len(origin) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
