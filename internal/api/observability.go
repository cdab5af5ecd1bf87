package api

import (
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"flood-duel/internal/game"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics with bounded cardinality (no per-player labels to prevent DoS)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_tick_duration_seconds",
		Help:    "Time spent in one session tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025},
	})

	sessionPhase = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_phase",
		Help: "Current session phase (0=waiting 1=starting 2=in_progress 3=paused 4=ending 5=over)",
	})

	waterLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_water_level_meters",
		Help: "Current water level",
	})

	playersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_players_connected",
		Help: "Players currently connected",
	})

	snapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_snapshot_version",
		Help: "Version of the latest published snapshot",
	})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_outcomes_total",
		Help: "Declared round outcomes",
	}, []string{"condition"})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_commands_total",
		Help: "Participant commands by result",
	}, []string{"command", "result"}) // result: "ok", "rejected", "throttled", "error"

	journalTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_journal_total",
		Help: "Total events journaled",
	})

	journalDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_journal_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	replicationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replication_failures_total",
		Help: "Failed pushes per replication sink",
	}, []string{"sink"})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter, auth or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "origin", "unauthorized", "forbidden", "admin_auth", "ws_limit", "ws_total"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is path pattern, not full URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages",
	}, []string{"direction"}) // "in", "out", "dropped"
)

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Loopback only unless AllowExternal
	AllowExternal bool
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// StartDebugServer starts the internal pprof and metrics server and returns
// it so the caller can shut it down. Returns nil when disabled.
// Non-loopback addresses are rewritten to 127.0.0.1 unless AllowExternal.
func StartDebugServer(cfg ObservabilityConfig, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("debug")

	if !cfg.Enabled {
		logger.Info("debug server disabled")
		return nil
	}

	if !cfg.AllowExternal && !isLoopback(cfg.ListenAddr) {
		logger.Warn("debug server forced to localhost", zap.String("requested", cfg.ListenAddr))
		cfg.ListenAddr = DefaultObservabilityConfig().ListenAddr
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	var handler http.Handler = mux
	if cfg.BasicAuthUser != "" {
		handler = basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("debug server starting",
			zap.String("pprof", "http://"+cfg.ListenAddr+"/debug/pprof/"),
			zap.String("metrics", "http://"+cfg.ListenAddr+"/metrics"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("debug server error", zap.Error(err))
		}
	}()

	return srv
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RecordTick records tick timing for metrics
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// ObserveSnapshot updates the session gauges from a published snapshot.
func ObserveSnapshot(snap *game.Snapshot) {
	sessionPhase.Set(float64(snap.Phase))
	waterLevel.Set(snap.WaterLevel)
	playersConnected.Set(float64(snap.ConnectedCount))
	snapshotVersion.Set(float64(snap.Version))
}

// RecordOutcome counts a declared outcome by condition name.
func RecordOutcome(condition string) {
	outcomesTotal.WithLabelValues(condition).Inc()
}

// RecordCommand counts a command by its result.
func RecordCommand(command string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errThrottled):
		result = "throttled"
	case errors.Is(err, game.ErrInvalidCommand), errors.Is(err, game.ErrInvalidTransition),
		errors.Is(err, game.ErrCapacityExceeded):
		result = "rejected"
	default:
		result = "error"
	}
	commandsTotal.WithLabelValues(command, result).Inc()
}

// RecordReplicationFailure counts a failed push to sink.
func RecordReplicationFailure(sink string) {
	replicationFailures.WithLabelValues(sink).Inc()
}

var journalSeen struct {
	sync.Mutex
	total, dropped uint64
}

// UpdateJournalStats advances the journal counters to the latest totals.
// Counters only move forward, so the delta since the last call is added.
func UpdateJournalStats(stats game.JournalStats) {
	journalSeen.Lock()
	defer journalSeen.Unlock()

	if stats.Total > journalSeen.total {
		journalTotal.Add(float64(stats.Total - journalSeen.total))
		journalSeen.total = stats.Total
	}
	if stats.Dropped > journalSeen.dropped {
		journalDropped.Add(float64(stats.Dropped - journalSeen.dropped))
		journalSeen.dropped = stats.Dropped
	}
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	if status == 0 {
		status = http.StatusOK
	}
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// RecordWSMessage counts a WebSocket message in direction "in", "out" or "dropped".
func RecordWSMessage(direction string) {
	wsMessagesTotal.WithLabelValues(direction).Inc()
}
