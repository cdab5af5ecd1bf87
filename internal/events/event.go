// Package events carries typed session notifications between components that
// hold no references to each other.
package events

import (
	"fmt"
	"time"
)

// Kind identifies an event channel.
type Kind uint8

const (
	KindPhaseChanged Kind = iota + 1
	KindWaterRisen
	KindWaterAlertChanged
	KindDikeGrown
	KindDikeLayerDamaged
	KindDikeLayerDestroyed
	KindPlayerConnected
	KindPlayerDisconnected
	KindPlayerReconnected
	KindPlayerReady
	KindPlayerDefeated
	KindPlayerVictorious
	KindOvertimeStarted
	KindGameEnded
	KindCommandRejected

	kindCount = iota
)

var kindNames = [...]string{
	KindPhaseChanged:       "phase_changed",
	KindWaterRisen:         "water_risen",
	KindWaterAlertChanged:  "water_alert_changed",
	KindDikeGrown:          "dike_grown",
	KindDikeLayerDamaged:   "dike_layer_damaged",
	KindDikeLayerDestroyed: "dike_layer_destroyed",
	KindPlayerConnected:    "player_connected",
	KindPlayerDisconnected: "player_disconnected",
	KindPlayerReconnected:  "player_reconnected",
	KindPlayerReady:        "player_ready",
	KindPlayerDefeated:     "player_defeated",
	KindPlayerVictorious:   "player_victorious",
	KindOvertimeStarted:    "overtime_started",
	KindGameEnded:          "game_ended",
	KindCommandRejected:    "command_rejected",
}

func (k Kind) String() string {
	if k == 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// MarshalText encodes the kind as its snake_case name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a snake_case kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range kindNames {
		if n != "" && n == name {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", name)
}

// AllKinds returns every defined kind.
func AllKinds() []Kind {
	kinds := make([]Kind, 0, kindCount)
	for k := KindPhaseChanged; int(k) <= kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// IsBroadcast reports whether the kind is pushed to every participant once
// committed.
func (k Kind) IsBroadcast() bool {
	switch k {
	case KindPhaseChanged, KindPlayerConnected, KindPlayerDisconnected, KindPlayerReconnected,
		KindPlayerDefeated, KindPlayerVictorious, KindOvertimeStarted, KindGameEnded:
		return true
	}
	return false
}

// Event is one published notification. Sequence and Timestamp are stamped by
// the Bus.
type Event struct {
	Kind      Kind      `json:"kind"`
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Elapsed   float64   `json:"elapsed"`
	PlayerID  int       `json:"playerId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// New creates an event for the given kind.
func New(kind Kind, elapsed float64, playerID int, payload any) Event {
	return Event{
		Kind:     kind,
		Elapsed:  elapsed,
		PlayerID: playerID,
		Payload:  payload,
	}
}

// =============================================================================
// PAYLOADS
// =============================================================================

// PhaseChanged is the payload for KindPhaseChanged.
type PhaseChanged struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Forced     bool   `json:"forced,omitempty"`
	Transition uint64 `json:"transition"`
}

// WaterRisen is the payload for KindWaterRisen.
type WaterRisen struct {
	Level float64 `json:"level"`
	Speed float64 `json:"speed"`
}

// WaterAlert is the payload for KindWaterAlertChanged.
type WaterAlert struct {
	Previous string  `json:"previous"`
	Current  string  `json:"current"`
	Ratio    float64 `json:"ratio"`
}

// DikeChanged is the payload for the dike kinds.
type DikeChanged struct {
	Material  string  `json:"material"`
	Damage    float64 `json:"damage,omitempty"`
	Health    float64 `json:"health"`
	MaxHealth float64 `json:"maxHealth"`
	Layers    int     `json:"layers"`
	Height    float64 `json:"height"`
}

// PlayerChanged is the payload for the player connection kinds.
type PlayerChanged struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Outcome is the payload for KindPlayerDefeated, KindPlayerVictorious and
// KindGameEnded. WinnerID is -1 for a draw.
type Outcome struct {
	WinnerID  int    `json:"winnerId"`
	LoserID   int    `json:"loserId"`
	Condition string `json:"condition"`
	Overtime  bool   `json:"overtime,omitempty"`
}

// Overtime is the payload for KindOvertimeStarted.
type Overtime struct {
	Extension float64 `json:"extension"`
	Deadline  float64 `json:"deadline"`
}

// CommandRejected is the payload for KindCommandRejected.
type CommandRejected struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}
