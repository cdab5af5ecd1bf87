// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for session tunables and server settings.
//
// Session values are immutable once a session is built from them.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrConfigurationMissing is returned when a session is started without the
// tunables it needs.
var ErrConfigurationMissing = errors.New("configuration missing")

// =============================================================================
// SESSION CONFIGURATION
// =============================================================================

// Session holds every tunable that shapes a match.
// Fields carry no env defaults: Load starts from a preset and the
// environment only overrides what is set.
type Session struct {
	// Timing
	MaxDuration          time.Duration `env:"SESSION_MAX_DURATION"` // 0 = unlimited
	CountdownDelay       time.Duration `env:"SESSION_COUNTDOWN"`
	EndingDelay          time.Duration `env:"SESSION_ENDING_DELAY"`
	OvertimeExtension    time.Duration `env:"SESSION_OVERTIME"`
	VictoryCheckInterval time.Duration `env:"VICTORY_CHECK_INTERVAL"`
	ReconnectGrace       time.Duration `env:"RECONNECT_GRACE"`

	// Water
	WaterStartDelay   time.Duration `env:"WATER_START_DELAY"`
	WaterBaseSpeed    float64       `env:"WATER_BASE_SPEED"`    // m/s
	WaterAcceleration float64       `env:"WATER_ACCELERATION"` // m/s²
	InitialWaterLevel float64       `env:"WATER_INITIAL_LEVEL"`

	// Dike
	LayerHeight     float64            `env:"DIKE_LAYER_HEIGHT"`
	DefaultMaterial string             `env:"DIKE_DEFAULT_MATERIAL"`
	MaterialHealth  map[string]float64 `env:"DIKE_MATERIAL_HEALTH" envSeparator:"," envKeyValSeparator:":"`
	MaxLayers       int                `env:"DIKE_MAX_LAYERS"`

	// Players
	RequiredPlayers int  `env:"SESSION_REQUIRED_PLAYERS"`
	MaxPlayers      int  `env:"SESSION_MAX_PLAYERS"`
	RequireReady    bool `env:"SESSION_REQUIRE_READY"`

	// Rules
	AutoEndOnVictory bool `env:"AUTO_END_ON_VICTORY"`
	SurrenderEnabled bool `env:"SURRENDER_ENABLED"`

	// Water alert ratios (water level / dike height)
	AlertCaution  float64 `env:"ALERT_CAUTION"`
	AlertWarning  float64 `env:"ALERT_WARNING"`
	AlertCritical float64 `env:"ALERT_CRITICAL"`
}

// DefaultSession returns the standard match settings.
func DefaultSession() Session {
	return Session{
		MaxDuration:          15 * time.Minute,
		CountdownDelay:       3 * time.Second,
		EndingDelay:          5 * time.Second,
		OvertimeExtension:    5 * time.Minute,
		VictoryCheckInterval: 500 * time.Millisecond,
		ReconnectGrace:       30 * time.Second,

		WaterStartDelay:   60 * time.Second,
		WaterBaseSpeed:    0.05,
		WaterAcceleration: 0.01,

		LayerHeight:     1,
		DefaultMaterial: "stone",
		MaterialHealth: map[string]float64{
			"stone": 100,
			"iron":  200,
			"steel": 400,
		},
		MaxLayers: 50,

		RequiredPlayers: 2,
		MaxPlayers:      2,

		AutoEndOnVictory: true,
		SurrenderEnabled: true,

		AlertCaution:  0.7,
		AlertWarning:  0.85,
		AlertCritical: 0.95,
	}
}

// Preset returns a named variant of DefaultSession.
// Known names: easy, normal, hard, blitz.
func Preset(name string) (Session, error) {
	cfg := DefaultSession()
	switch strings.ToLower(name) {
	case "", "normal":
	case "easy":
		cfg.WaterBaseSpeed = 0.03
		cfg.WaterAcceleration = 0
		cfg.MaxDuration = 0
	case "hard":
		cfg.WaterStartDelay = 45 * time.Second
		cfg.WaterBaseSpeed = 0.08
		cfg.WaterAcceleration = 0.02
		cfg.MaxDuration = 20 * time.Minute
	case "blitz":
		cfg.WaterStartDelay = 20 * time.Second
		cfg.WaterBaseSpeed = 0.1
		cfg.WaterAcceleration = 0.04
		cfg.MaxDuration = 10 * time.Minute
		cfg.OvertimeExtension = 2 * time.Minute
	default:
		return Session{}, fmt.Errorf("unknown preset %q", name)
	}
	return cfg, nil
}

// Validate reports whether the session carries every required tunable.
// All failures wrap ErrConfigurationMissing.
func (s *Session) Validate() error {
	if s == nil {
		return ErrConfigurationMissing
	}

	var problems []string
	if s.LayerHeight <= 0 {
		problems = append(problems, "layer height must be positive")
	}
	if len(s.MaterialHealth) == 0 {
		problems = append(problems, "material table is empty")
	}
	for _, name := range s.Materials() {
		if s.MaterialHealth[name] <= 0 {
			problems = append(problems, fmt.Sprintf("material %q needs positive health", name))
		}
	}
	if _, ok := s.MaterialHealth[s.DefaultMaterial]; !ok {
		problems = append(problems, fmt.Sprintf("default material %q not in table", s.DefaultMaterial))
	}
	if s.MaxLayers <= 0 {
		problems = append(problems, "max layers must be positive")
	}
	if s.VictoryCheckInterval <= 0 {
		problems = append(problems, "victory check interval must be positive")
	}
	if s.RequiredPlayers < 1 || s.MaxPlayers < s.RequiredPlayers {
		problems = append(problems, "player counts out of range")
	}
	if s.MaxDuration < 0 || s.OvertimeExtension < 0 || s.CountdownDelay < 0 || s.EndingDelay < 0 ||
		s.ReconnectGrace < 0 || s.WaterStartDelay < 0 {
		problems = append(problems, "durations must not be negative")
	}
	if s.WaterBaseSpeed < 0 || s.WaterAcceleration < 0 {
		problems = append(problems, "water speed must not be negative")
	}
	if !(s.AlertCaution <= s.AlertWarning && s.AlertWarning <= s.AlertCritical) {
		problems = append(problems, "alert thresholds must be ordered")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(problems, "; "))
	}
	return nil
}

// Materials returns the configured material names in stable order.
func (s *Session) Materials() []string {
	names := make([]string, 0, len(s.MaterialHealth))
	for name := range s.MaterialHealth {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so callers cannot mutate a running session's table.
func (s Session) Clone() Session {
	table := make(map[string]float64, len(s.MaterialHealth))
	for k, v := range s.MaterialHealth {
		table[k] = v
	}
	s.MaterialHealth = table
	return s
}

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// Server holds process-level settings.
type Server struct {
	Port        int      `env:"PORT" envDefault:"3000"`
	TickRate    int      `env:"TICK_RATE" envDefault:"30"`
	Preset      string   `env:"SESSION_PRESET" envDefault:"normal"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	DebugEnabled       bool   `env:"DEBUG_SERVER_ENABLED" envDefault:"true"`
	DebugAddr          string `env:"DEBUG_SERVER_ADDR" envDefault:"127.0.0.1:6060"`
	DebugUser          string `env:"DEBUG_USER"`
	DebugPass          string `env:"DEBUG_PASS"`
	DebugAllowExternal bool   `env:"ALLOW_DEBUG_EXTERNAL" envDefault:"false"`

	// Auth. An empty AdminToken leaves the session control routes open;
	// an empty SeatSecret is replaced with a random one at startup.
	AdminToken string `env:"ADMIN_TOKEN"`
	SeatSecret string `env:"SEAT_SECRET"`

	CommandRate  float64       `env:"COMMAND_RATE" envDefault:"20"`
	CommandBurst int           `env:"COMMAND_BURST" envDefault:"40"`
	ShutdownWait time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	JournalPath string `env:"EVENT_LOG_PATH" envDefault:"events.jsonl"`

	RedisAddr    string `env:"REDIS_ADDR"`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"flood-duel"`

	// Local socket replication; empty disables it.
	IPCSocket string `env:"IPC_SOCKET"`

	LogDevelopment bool `env:"LOG_DEV" envDefault:"false"`
}

// DefaultServer returns the default server configuration.
func DefaultServer() Server {
	return Server{
		Port:           3000,
		TickRate:       30,
		Preset:         "normal",
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		DebugEnabled:   true,
		DebugAddr:      "127.0.0.1:6060",
		CommandRate:    20,
		CommandBurst:   40,
		ShutdownWait:   10 * time.Second,
		JournalPath:    "events.jsonl",
		RedisChannel:   "flood-duel",
	}
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server  Server
	Session Session
}

// Load reads the server settings, resolves the session preset, and lets the
// environment override individual session tunables.
func Load() (AppConfig, error) {
	var srv Server
	if err := ParseEnv(&srv); err != nil {
		return AppConfig{}, err
	}

	sess, err := Preset(srv.Preset)
	if err != nil {
		return AppConfig{}, fmt.Errorf("%w: %w", ErrConfigurationMissing, err)
	}
	if err := ParseEnv(&sess); err != nil {
		return AppConfig{}, err
	}
	if err := sess.Validate(); err != nil {
		return AppConfig{}, err
	}

	return AppConfig{Server: srv, Session: sess}, nil
}
