package game

import "fmt"

// parseName maps text back to its index in names.
func parseName(names []string, text []byte, what string) (uint8, error) {
	s := string(text)
	for i, n := range names {
		if n != "" && n == s {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("unknown %s %q", what, s)
}

func nameOf(names []string, i uint8, what string) string {
	if int(i) < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("%s(%d)", what, i)
}

// ConnectionStatus tracks a participant's link to the authority.
type ConnectionStatus uint8

const (
	StatusConnected ConnectionStatus = iota
	StatusReconnecting
	StatusDisconnected
)

var statusNames = []string{"connected", "reconnecting", "disconnected"}

func (s ConnectionStatus) String() string { return nameOf(statusNames, uint8(s), "status") }

func (s ConnectionStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ConnectionStatus) UnmarshalText(text []byte) error {
	v, err := parseName(statusNames, text, "status")
	*s = ConnectionStatus(v)
	return err
}

// Location is where a player's avatar currently is. Informational only.
type Location uint8

const (
	LocationSurface Location = iota
	LocationUnderground
	LocationTransition
)

var locationNames = []string{"surface", "underground", "transition"}

func (l Location) String() string { return nameOf(locationNames, uint8(l), "location") }

func (l Location) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Location) UnmarshalText(text []byte) error {
	v, err := parseName(locationNames, text, "location")
	*l = Location(v)
	return err
}

// PlayerState is a participant's lifecycle within one round.
type PlayerState uint8

const (
	PlayerWaiting PlayerState = iota
	PlayerReady
	PlayerPlaying
	PlayerDefeated
	PlayerVictorious
)

var playerStateNames = []string{"waiting", "ready", "playing", "defeated", "victorious"}

func (s PlayerState) String() string { return nameOf(playerStateNames, uint8(s), "state") }

func (s PlayerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PlayerState) UnmarshalText(text []byte) error {
	v, err := parseName(playerStateNames, text, "player state")
	*s = PlayerState(v)
	return err
}

// AlertLevel grades how close the water is to topping a dike.
type AlertLevel uint8

const (
	AlertSafe AlertLevel = iota
	AlertCaution
	AlertWarning
	AlertCritical
	AlertFlooding
)

var alertNames = []string{"safe", "caution", "warning", "critical", "flooding"}

func (a AlertLevel) String() string { return nameOf(alertNames, uint8(a), "alert") }

func (a AlertLevel) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AlertLevel) UnmarshalText(text []byte) error {
	v, err := parseName(alertNames, text, "alert")
	*a = AlertLevel(v)
	return err
}

// Condition is how a round was decided.
type Condition uint8

const (
	ConditionNone Condition = iota
	ConditionFlooding
	ConditionEnemyDisconnected
	ConditionTimeLimitReached
	ConditionSurrender
	ConditionDraw
)

var conditionNames = []string{"none", "flooding", "enemy_disconnected", "time_limit_reached", "surrender", "draw"}

func (c Condition) String() string { return nameOf(conditionNames, uint8(c), "condition") }

func (c Condition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Condition) UnmarshalText(text []byte) error {
	v, err := parseName(conditionNames, text, "condition")
	*c = Condition(v)
	return err
}
