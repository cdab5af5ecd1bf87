package replication

import (
	"context"
	"sync"

	"flood-duel/internal/events"
	"flood-duel/internal/game"
)

// MaxMirroredBroadcasts bounds the broadcast history a Mirror keeps.
const MaxMirroredBroadcasts = 64

// Mirror is a read-only replica of a session. It only moves forward: a
// snapshot for the same session with a version not newer than the one held
// is ignored. A snapshot from a different session replaces the state.
type Mirror struct {
	name string

	mu         sync.RWMutex
	state      *game.Snapshot
	broadcasts []events.Event
	stale      uint64
}

// NewMirror creates an empty replica.
func NewMirror(name string) *Mirror {
	if name == "" {
		name = "mirror"
	}
	return &Mirror{name: name}
}

// Name identifies the mirror as a sink.
func (m *Mirror) Name() string { return m.name }

// PushState applies snap.
func (m *Mirror) PushState(_ context.Context, snap *game.Snapshot) error {
	m.Apply(snap)
	return nil
}

// PushBroadcast records e.
func (m *Mirror) PushBroadcast(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.broadcasts = append(m.broadcasts, e)
	if over := len(m.broadcasts) - MaxMirroredBroadcasts; over > 0 {
		m.broadcasts = append(m.broadcasts[:0:0], m.broadcasts[over:]...)
	}
	return nil
}

// Apply stores snap unless it is older than the held state. Returns whether
// it was applied.
func (m *Mirror) Apply(snap *game.Snapshot) bool {
	if snap == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur := m.state; cur != nil && cur.SessionID == snap.SessionID && snap.Version <= cur.Version {
		m.stale++
		return false
	}
	m.state = snap
	return true
}

// State returns the held snapshot, nil before the first one arrives.
// Callers must treat it as read-only.
func (m *Mirror) State() *game.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Version returns the held snapshot version, 0 when empty.
func (m *Mirror) Version() uint64 {
	if s := m.State(); s != nil {
		return s.Version
	}
	return 0
}

// Phase returns the replicated phase.
func (m *Mirror) Phase() (game.Phase, bool) {
	s := m.State()
	if s == nil {
		return 0, false
	}
	return s.Phase, true
}

// WaterLevel returns the replicated water height.
func (m *Mirror) WaterLevel() float64 {
	if s := m.State(); s != nil {
		return s.WaterLevel
	}
	return 0
}

// ElapsedTime returns replicated seconds of play.
func (m *Mirror) ElapsedTime() float64 {
	if s := m.State(); s != nil {
		return s.ElapsedTime
	}
	return 0
}

// ConnectedCount returns the replicated connected player count.
func (m *Mirror) ConnectedCount() int {
	if s := m.State(); s != nil {
		return s.ConnectedCount
	}
	return 0
}

// TotalHeight returns player id's replicated dike height.
func (m *Mirror) TotalHeight(id int) (float64, bool) {
	s := m.State()
	if s == nil {
		return 0, false
	}
	p, ok := s.Player(id)
	return p.TotalHeight, ok
}

// Broadcasts returns the recent broadcasts, oldest first.
func (m *Mirror) Broadcasts() []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]events.Event, len(m.broadcasts))
	copy(out, m.broadcasts)
	return out
}

// Stale returns how many snapshots were ignored as out of date.
func (m *Mirror) Stale() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale
}
