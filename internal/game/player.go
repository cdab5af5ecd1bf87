package game

import (
	"sort"
	"strings"
)

// NoWinner marks a decided round without a winner.
const NoWinner = -1

// MaxStableLatencyMs is the highest round-trip latency still considered a
// stable link.
const MaxStableLatencyMs = 200

// Statistics are informational counters kept per player.
type Statistics struct {
	PlayTime           float64 `json:"playTime"`
	ResourcesCollected int     `json:"resourcesCollected"`
	LayersBuilt        int     `json:"layersBuilt"`
	LayersLost         int     `json:"layersLost"`
	DamageDealt        float64 `json:"damageDealt"`
}

// NetworkQuality is the last latency a participant reported.
type NetworkQuality struct {
	LatencyMs float64 `json:"latencyMs"`
	Stable    bool    `json:"stable"`
}

// Player is one connected participant. Each player owns exactly one Dike.
type Player struct {
	ID       int
	Name     string
	Status   ConnectionStatus
	Location Location
	IsHost   bool
	IsLocal  bool // plays on the authority process itself
	Ready    bool
	State    PlayerState
	Dike     *Dike
	Stats    Statistics
	Network  NetworkQuality
	Alert    AlertLevel
}

// Connected reports whether the player currently has a live link.
func (p *Player) Connected() bool {
	return p.Status == StatusConnected
}

// Registry holds the session's participants keyed by id.
type Registry struct {
	players  map[int]*Player
	capacity int
}

// NewRegistry creates a registry that admits at most capacity players.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		players:  make(map[int]*Player, capacity),
		capacity: capacity,
	}
}

// Add registers a new player under the lowest free id, starting at 1.
func (r *Registry) Add(name string, isHost bool, dike *Dike) (*Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNameRequired
	}
	if len(r.players) >= r.capacity {
		return nil, ErrCapacityExceeded
	}
	if _, taken := r.ByName(name); taken {
		return nil, ErrNameInUse
	}

	id := 1
	for r.players[id] != nil {
		id++
	}

	p := &Player{
		ID:      id,
		Name:    name,
		Status:  StatusConnected,
		IsHost:  isHost,
		IsLocal: isHost,
		State:   PlayerWaiting,
		Dike:    dike,
		Network: NetworkQuality{Stable: true},
	}
	r.players[id] = p
	return p, nil
}

// Get returns the player with id.
func (r *Registry) Get(id int) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// ByName finds a player by display name, case-insensitively.
func (r *Registry) ByName(name string) (*Player, bool) {
	name = strings.TrimSpace(name)
	for _, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return nil, false
}

// Remove deletes the player with id.
func (r *Registry) Remove(id int) bool {
	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	return true
}

// All returns the players ordered by id.
func (r *Registry) All() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered players.
func (r *Registry) Len() int { return len(r.players) }

// Full reports whether no more players can be admitted.
func (r *Registry) Full() bool { return len(r.players) >= r.capacity }

// ConnectedCount returns how many players have a live link.
func (r *Registry) ConnectedCount() int {
	n := 0
	for _, p := range r.players {
		if p.Connected() {
			n++
		}
	}
	return n
}

// Opponent returns the only other player, if exactly one exists.
func (r *Registry) Opponent(id int) (*Player, bool) {
	var other *Player
	for _, p := range r.players {
		if p.ID == id {
			continue
		}
		if other != nil {
			return nil, false
		}
		other = p
	}
	return other, other != nil
}

// AnyReconnecting reports whether a player is inside a reconnect window.
func (r *Registry) AnyReconnecting() bool {
	for _, p := range r.players {
		if p.Status == StatusReconnecting {
			return true
		}
	}
	return false
}

// AllReady reports whether every registered player has flagged ready.
func (r *Registry) AllReady() bool {
	for _, p := range r.players {
		if !p.Ready {
			return false
		}
	}
	return len(r.players) > 0
}

// Clear removes every player.
func (r *Registry) Clear() {
	r.players = make(map[int]*Player, r.capacity)
}
