package game

import "time"

// LayerSnapshot is an immutable copy of one dike layer.
type LayerSnapshot struct {
	Material      Material `json:"material"`
	Health        float64  `json:"health"`
	MaxHealth     float64  `json:"maxHealth"`
	HealthPercent float64  `json:"healthPercent"`
}

// PlayerSnapshot is an immutable copy of one participant.
// Uses value types (not pointers) so replicas can never reach live state.
type PlayerSnapshot struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Status      ConnectionStatus `json:"status"`
	Location    Location         `json:"location"`
	IsHost      bool             `json:"isHost"`
	IsLocal     bool             `json:"isLocal"`
	Ready       bool             `json:"ready"`
	State       PlayerState      `json:"state"`
	Alert       AlertLevel       `json:"alert"`
	TotalHeight float64          `json:"totalHeight"`
	Layers      []LayerSnapshot  `json:"layers"`
	Stats       Statistics       `json:"stats"`
	Network     NetworkQuality   `json:"network"`
}

// Snapshot is the replicated view of authoritative session state.
type Snapshot struct {
	SessionID      string           `json:"sessionId"`
	Version        uint64           `json:"version"`
	Phase          Phase            `json:"phase"`
	TimeInPhase    float64          `json:"timeInPhase"`
	ElapsedTime    float64          `json:"elapsedTime"`
	WaterLevel     float64          `json:"waterLevel"`
	WaterSpeed     float64          `json:"waterSpeed"`
	ConnectedCount int              `json:"connectedCount"`
	TimeLimited    bool             `json:"timeLimited"`
	RemainingTime  float64          `json:"remainingTime"`
	Overtime       bool             `json:"overtime"`
	Decided        bool             `json:"decided"`
	WinnerID       int              `json:"winnerId"`
	Condition      Condition        `json:"condition"`
	Players        []PlayerSnapshot `json:"players"`
	CapturedAt     time.Time        `json:"capturedAt"`
}

// Player returns the snapshot of player id.
func (s *Snapshot) Player(id int) (PlayerSnapshot, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerSnapshot{}, false
}

// Snapshot copies the current authoritative state.
func (s *Session) Snapshot() *Snapshot {
	snap := &Snapshot{
		SessionID:      s.id.String(),
		Version:        s.version,
		Phase:          s.machine.Phase(),
		TimeInPhase:    s.machine.TimeInPhase(),
		ElapsedTime:    s.water.Elapsed(),
		WaterLevel:     s.water.Level(),
		WaterSpeed:     s.water.Speed(),
		ConnectedCount: s.players.ConnectedCount(),
		Overtime:       s.judge.InOvertime(),
		WinnerID:       NoWinner,
		Players:        make([]PlayerSnapshot, 0, s.players.Len()),
		CapturedAt:     s.clock.Now(),
	}
	snap.RemainingTime, snap.TimeLimited = s.judge.RemainingTime(s.water.Elapsed())

	if rec, ok := s.judge.Active(); ok {
		snap.Decided = true
		snap.WinnerID = rec.WinnerID
		snap.Condition = rec.Condition
	}

	for _, p := range s.players.All() {
		layers := p.Dike.Layers()
		ls := make([]LayerSnapshot, len(layers))
		for i, l := range layers {
			ls[i] = LayerSnapshot{
				Material:      l.Material,
				Health:        l.CurrentHealth,
				MaxHealth:     l.MaxHealth,
				HealthPercent: l.HealthPercent(),
			}
		}
		snap.Players = append(snap.Players, PlayerSnapshot{
			ID:          p.ID,
			Name:        p.Name,
			Status:      p.Status,
			Location:    p.Location,
			IsHost:      p.IsHost,
			IsLocal:     p.IsLocal,
			Ready:       p.Ready,
			State:       p.State,
			Alert:       p.Alert,
			TotalHeight: p.Dike.TotalHeight(),
			Layers:      ls,
			Stats:       p.Stats,
			Network:     p.Network,
		})
	}
	return snap
}
