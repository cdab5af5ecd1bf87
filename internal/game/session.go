package game

import (
	"fmt"
	"math"
	"strings"

	"flood-duel/internal/clock"
	"flood-duel/internal/config"
	"flood-duel/internal/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the authority for one match. It composes the state machine,
// water timer, player registry and victory evaluator, and publishes every
// change on its Bus.
//
// Session is not safe for concurrent use. The Engine serializes all access
// onto one goroutine.
type Session struct {
	id        uuid.UUID
	cfg       config.Session
	materials MaterialTable
	alerts    AlertThresholds

	bus    *events.Bus
	logger *zap.Logger
	clock  clock.Clock

	sched   *Scheduler
	machine *StateMachine
	water   *WaterTimer
	players *Registry
	judge   *Evaluator

	version    uint64
	lastWater  float64
	autoPaused bool
	grace      map[int]TaskToken
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock sets the wall clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithBus publishes onto an existing bus instead of a private one.
func WithBus(b *events.Bus) Option {
	return func(s *Session) { s.bus = b }
}

// WithID fixes the session id.
func WithID(id uuid.UUID) Option {
	return func(s *Session) { s.id = id }
}

// NewSession validates cfg and builds a session waiting for players.
func NewSession(cfg *config.Session, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, ErrConfigurationMissing
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := cfg.Clone()
	s := &Session{
		id:        uuid.New(),
		cfg:       c,
		materials: NewMaterialTable(c.MaterialHealth),
		alerts: AlertThresholds{
			Caution:  c.AlertCaution,
			Warning:  c.AlertWarning,
			Critical: c.AlertCritical,
		},
		sched: NewScheduler(),
		water: NewWaterTimer(c.InitialWaterLevel, c.WaterStartDelay.Seconds(),
			c.WaterBaseSpeed, c.WaterAcceleration),
		players: NewRegistry(c.MaxPlayers),
		judge: NewEvaluator(c.VictoryCheckInterval.Seconds(), c.MaxDuration.Seconds(),
			c.OvertimeExtension.Seconds()),
		lastWater: c.InitialWaterLevel,
		grace:     make(map[int]TaskToken),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("session", s.id.String()))
	s.clock = clock.OrDefault(s.clock)
	if s.bus == nil {
		s.bus = events.NewBus(s.logger, s.clock)
	}

	s.machine = NewStateMachine(s.sched, PhaseHooks{
		OnExit:    s.exitPhase,
		OnEnter:   s.enterPhase,
		OnChanged: s.phaseChanged,
		OnDelayFailed: func(to Phase, err error) {
			s.logger.Warn("delayed transition rejected", zap.String("to", to.String()), zap.Error(err))
		},
	})
	return s, nil
}

// =============================================================================
// READ-ONLY STATE
// =============================================================================

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Bus returns the bus this session publishes on.
func (s *Session) Bus() *events.Bus { return s.bus }

// Config returns a copy of the session tunables.
func (s *Session) Config() config.Session { return s.cfg.Clone() }

// Materials returns the buildable materials.
func (s *Session) Materials() MaterialTable { return s.materials }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.machine.Phase() }

// WaterLevel returns the shared water height.
func (s *Session) WaterLevel() float64 { return s.water.Level() }

// ElapsedTime returns seconds of play this round.
func (s *Session) ElapsedTime() float64 { return s.water.Elapsed() }

// ConnectedCount returns how many players have a live link.
func (s *Session) ConnectedCount() int { return s.players.ConnectedCount() }

// RemainingTime returns seconds until the time limit; false when unlimited.
func (s *Session) RemainingTime() (float64, bool) {
	return s.judge.RemainingTime(s.water.Elapsed())
}

// TotalHeight returns player id's dike height.
func (s *Session) TotalHeight(id int) (float64, bool) {
	p, ok := s.players.Get(id)
	if !ok {
		return 0, false
	}
	return p.Dike.TotalHeight(), true
}

// Winner returns the committed outcome of the current round.
func (s *Session) Winner() (VictoryRecord, bool) { return s.judge.Active() }

// History returns every declared outcome, oldest first.
func (s *Session) History() []VictoryRecord { return s.judge.History() }

// Version increases on every authoritative change.
func (s *Session) Version() uint64 { return s.version }

// Machine exposes the state machine for lock and enable control.
func (s *Session) Machine() *StateMachine { return s.machine }

// Health reports whether the session is configured to run.
func (s *Session) Health() error { return s.cfg.Validate() }

// =============================================================================
// CONNECTION COMMANDS
// =============================================================================

// Connect admits a new player, or reattaches a player with the same name
// whose link dropped. New players are only admitted while waiting. Callers
// that cannot vouch for who is asking use Join and Rejoin instead.
func (s *Session) Connect(name string, isHost bool) (int, error) {
	if p, ok := s.players.ByName(name); ok {
		return s.reconnect(p)
	}
	return s.admit(name, isHost)
}

// Join admits a new player only. A name still held by a player, dropped or
// not, is refused.
func (s *Session) Join(name string, isHost bool) (int, error) {
	if _, ok := s.players.ByName(name); ok {
		return 0, s.reject("connect", 0, ErrNameInUse)
	}
	return s.admit(name, isHost)
}

// Rejoin reattaches player id after a dropped link. name must be the
// player's current name.
func (s *Session) Rejoin(id int, name string) (int, error) {
	p, ok := s.players.Get(id)
	if !ok || !strings.EqualFold(p.Name, strings.TrimSpace(name)) {
		return 0, s.reject("connect", id, fmt.Errorf("%w: seat %d is not %q", ErrNameInUse, id, name))
	}
	return s.reconnect(p)
}

func (s *Session) admit(name string, isHost bool) (int, error) {
	if s.players.Full() {
		return 0, s.reject("connect", 0, ErrCapacityExceeded)
	}
	if phase := s.machine.Phase(); phase != PhaseWaitingForPlayers {
		return 0, s.reject("connect", 0, fmt.Errorf("%w: %s", ErrWrongPhase, phase))
	}

	p, err := s.players.Add(name, isHost, s.newDike())
	if err != nil {
		return 0, s.reject("connect", 0, err)
	}
	if err := p.Dike.Seed(Material(s.cfg.DefaultMaterial)); err != nil {
		s.players.Remove(p.ID)
		return 0, s.reject("connect", 0, err)
	}
	s.touch()

	s.logger.Info("player connected",
		zap.Int("player", p.ID),
		zap.String("name", p.Name),
		zap.Bool("host", isHost),
	)
	s.publish(events.KindPlayerConnected, p.ID, events.PlayerChanged{Name: p.Name})
	s.maybeStart()
	return p.ID, nil
}

func (s *Session) reconnect(p *Player) (int, error) {
	phase := s.machine.Phase()
	switch p.Status {
	case StatusConnected:
		return 0, s.reject("connect", 0, ErrNameInUse)
	case StatusDisconnected:
		if phase != PhaseOver && phase != PhaseWaitingForPlayers {
			return 0, s.reject("connect", p.ID, fmt.Errorf("%w: %s", ErrWrongPhase, phase))
		}
	}

	s.cancelGrace(p.ID)
	p.Status = StatusConnected
	s.touch()
	s.logger.Info("player reconnected", zap.Int("player", p.ID), zap.String("name", p.Name))
	s.publish(events.KindPlayerReconnected, p.ID, events.PlayerChanged{Name: p.Name})

	if phase == PhasePaused && s.autoPaused && !s.players.AnyReconnecting() {
		if err := s.machine.Transition(PhaseInProgress); err != nil {
			s.logger.Warn("resume after reconnect failed", zap.Error(err))
		} else {
			s.autoPaused = false
		}
	}
	return p.ID, nil
}

// Disconnect handles a participant leaving. Outside play the player is
// removed. During play the session pauses and a reconnect window opens;
// when it lapses the player counts as terminally disconnected.
func (s *Session) Disconnect(id int) error {
	p, ok := s.players.Get(id)
	if !ok {
		return s.reject("disconnect", id, fmt.Errorf("%w: %d", ErrUnknownPlayer, id))
	}

	switch phase := s.machine.Phase(); phase {
	case PhaseWaitingForPlayers, PhaseOver:
		s.removePlayer(p, "left")

	case PhaseStarting:
		s.removePlayer(p, "left")
		if err := s.machine.Transition(PhaseWaitingForPlayers); err != nil {
			s.logger.Warn("abort countdown failed", zap.Error(err))
		}

	case PhaseInProgress, PhasePaused:
		if p.Status != StatusConnected {
			return nil
		}
		p.Status = StatusReconnecting
		s.touch()
		s.logger.Info("player connection lost",
			zap.Int("player", p.ID),
			zap.Duration("grace", s.cfg.ReconnectGrace),
		)
		s.publish(events.KindPlayerDisconnected, p.ID, events.PlayerChanged{Name: p.Name, Reason: "connection_lost"})
		s.startGrace(p.ID)
		if phase == PhaseInProgress {
			if err := s.machine.Transition(PhasePaused); err != nil {
				s.logger.Warn("pause on disconnect failed", zap.Error(err))
			} else {
				s.autoPaused = true
			}
		}

	case PhaseEnding:
		p.Status = StatusDisconnected
		s.touch()
		s.publish(events.KindPlayerDisconnected, p.ID, events.PlayerChanged{Name: p.Name, Reason: "left"})
	}
	return nil
}

// SetReady flags a player ready or not. Only meaningful before play starts.
func (s *Session) SetReady(id int, ready bool) error {
	p, err := s.connectedPlayer(id)
	if err != nil {
		return s.reject("ready", id, err)
	}
	phase := s.machine.Phase()
	if phase != PhaseWaitingForPlayers && phase != PhaseStarting {
		return s.reject("ready", id, fmt.Errorf("%w: %s", ErrWrongPhase, phase))
	}

	p.Ready = ready
	p.State = PlayerWaiting
	if ready {
		p.State = PlayerReady
	}
	s.touch()
	s.publish(events.KindPlayerReady, id, events.PlayerChanged{Name: p.Name, Ready: ready})

	if phase == PhaseStarting && !ready && s.cfg.RequireReady {
		if err := s.machine.Transition(PhaseWaitingForPlayers); err != nil {
			s.logger.Warn("abort countdown failed", zap.Error(err))
		}
		return nil
	}
	s.maybeStart()
	return nil
}

// =============================================================================
// PLAY COMMANDS
// =============================================================================

// BuildDike appends a layer of material m to the issuer's own dike.
func (s *Session) BuildDike(id int, m Material) error {
	p, err := s.connectedPlayer(id)
	if err != nil {
		return s.reject("build", id, err)
	}
	if err := s.requirePhase(PhaseInProgress); err != nil {
		return s.reject("build", id, err)
	}

	layer, err := p.Dike.Build(m)
	if err != nil {
		return s.reject("build", id, err)
	}
	p.Stats.LayersBuilt++
	s.touch()

	s.publish(events.KindDikeGrown, id, events.DikeChanged{
		Material:  string(layer.Material),
		Health:    layer.CurrentHealth,
		MaxHealth: layer.MaxHealth,
		Layers:    p.Dike.Len(),
		Height:    p.Dike.TotalHeight(),
	})
	s.refreshAlert(p)
	return nil
}

// AttackDike damages the top layer of target's dike. Hitting an empty dike
// does nothing.
func (s *Session) AttackDike(issuer, target int, damage float64) error {
	attacker, err := s.connectedPlayer(issuer)
	if err != nil {
		return s.reject("attack", issuer, err)
	}
	if target == issuer {
		return s.reject("attack", issuer, ErrSelfTarget)
	}
	victim, ok := s.players.Get(target)
	if !ok {
		return s.reject("attack", issuer, fmt.Errorf("%w: %d", ErrUnknownPlayer, target))
	}
	if err := s.requirePhase(PhaseInProgress); err != nil {
		return s.reject("attack", issuer, err)
	}

	res, err := victim.Dike.Attack(damage)
	if err != nil {
		return s.reject("attack", issuer, err)
	}
	if !res.Hit {
		return nil
	}

	attacker.Stats.DamageDealt += res.Applied
	s.touch()

	payload := events.DikeChanged{
		Material:  string(res.Layer.Material),
		Damage:    damage,
		Health:    res.Layer.CurrentHealth,
		MaxHealth: res.Layer.MaxHealth,
		Layers:    res.Remaining,
		Height:    victim.Dike.TotalHeight(),
	}
	if res.Destroyed {
		victim.Stats.LayersLost++
		s.publish(events.KindDikeLayerDestroyed, target, payload)
	} else {
		s.publish(events.KindDikeLayerDamaged, target, payload)
	}
	s.refreshAlert(victim)
	return nil
}

// RequestPause pauses a running round.
func (s *Session) RequestPause(issuer int) error {
	if _, err := s.connectedPlayer(issuer); err != nil {
		return s.reject("pause", issuer, err)
	}
	if err := s.requirePhase(PhaseInProgress); err != nil {
		return s.reject("pause", issuer, err)
	}
	if err := s.machine.Transition(PhasePaused); err != nil {
		return s.reject("pause", issuer, err)
	}
	s.autoPaused = false
	return nil
}

// RequestResume resumes a paused round once nobody is mid-reconnect.
func (s *Session) RequestResume(issuer int) error {
	if _, err := s.connectedPlayer(issuer); err != nil {
		return s.reject("resume", issuer, err)
	}
	if err := s.requirePhase(PhasePaused); err != nil {
		return s.reject("resume", issuer, err)
	}
	if s.players.AnyReconnecting() {
		return s.reject("resume", issuer, ErrAwaitingReconnect)
	}
	if err := s.machine.Transition(PhaseInProgress); err != nil {
		return s.reject("resume", issuer, err)
	}
	s.autoPaused = false
	return nil
}

// Surrender concedes the round to the opponent.
func (s *Session) Surrender(id int) error {
	if !s.cfg.SurrenderEnabled {
		return s.reject("surrender", id, ErrSurrenderDisabled)
	}
	if _, err := s.connectedPlayer(id); err != nil {
		return s.reject("surrender", id, err)
	}
	if err := s.requirePhase(PhaseInProgress, PhasePaused); err != nil {
		return s.reject("surrender", id, err)
	}
	if s.judge.Decided() {
		return s.reject("surrender", id, ErrAlreadyDeclared)
	}

	winner := NoWinner
	if opp, ok := s.players.Opponent(id); ok {
		winner = opp.ID
	}
	return s.declare(Outcome{WinnerID: winner, LoserID: id, Condition: ConditionSurrender})
}

// UpdateLocation records where a player's avatar is.
func (s *Session) UpdateLocation(id int, loc Location) error {
	p, err := s.connectedPlayer(id)
	if err != nil {
		return s.reject("location", id, err)
	}
	if loc > LocationTransition {
		return s.reject("location", id, fmt.Errorf("%w: location %d", ErrInvalidCommand, loc))
	}
	p.Location = loc
	s.touch()
	return nil
}

// ReportLatency records a participant's measured round-trip time.
func (s *Session) ReportLatency(id int, ms float64) error {
	p, err := s.connectedPlayer(id)
	if err != nil {
		return s.reject("latency", id, err)
	}
	if !(ms >= 0) || math.IsInf(ms, 0) {
		return s.reject("latency", id, ErrInvalidAmount)
	}
	p.Network = NetworkQuality{LatencyMs: ms, Stable: ms <= MaxStableLatencyMs}
	s.touch()
	return nil
}

// RecordResources credits resources gathered by the harvesting layer.
func (s *Session) RecordResources(id int, amount int) error {
	p, err := s.connectedPlayer(id)
	if err != nil {
		return s.reject("resources", id, err)
	}
	if amount <= 0 {
		return s.reject("resources", id, ErrInvalidAmount)
	}
	p.Stats.ResourcesCollected += amount
	s.touch()
	return nil
}

// =============================================================================
// SESSION CONTROL
// =============================================================================

// Reset returns a finished session to waiting. Connected players stay for a
// rematch; everyone else is dropped.
func (s *Session) Reset() error {
	if phase := s.machine.Phase(); phase != PhaseOver {
		return s.reject("reset", 0, fmt.Errorf("%w: reset from %s", ErrInvalidTransition, phase))
	}
	if err := s.machine.Transition(PhaseWaitingForPlayers); err != nil {
		return s.reject("reset", 0, err)
	}
	s.maybeStart()
	return nil
}

// ForcePhase moves to any phase, bypassing the transition table.
func (s *Session) ForcePhase(to Phase) error {
	if err := s.machine.Force(to); err != nil {
		return s.reject("force", 0, err)
	}
	s.logger.Warn("phase forced", zap.String("to", to.String()))
	return nil
}

// Tick advances the session by dt seconds.
func (s *Session) Tick(dt float64) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return
	}

	start := s.machine.Phase()
	s.machine.Advance(dt)
	s.sched.Advance(dt)

	if start != PhaseInProgress || s.machine.Phase() != PhaseInProgress {
		return
	}

	s.water.Tick(dt)
	for _, p := range s.players.All() {
		if p.Connected() {
			p.Stats.PlayTime += dt
		}
	}
	s.touch()

	due := s.judge.Due(dt)
	if due {
		s.publishWater()
		s.refreshAlerts()
	}
	if due || s.judge.DeadlinePassed(s.water.Elapsed()) {
		s.evaluate()
	}
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Session) newDike() *Dike {
	return NewDike(s.cfg.LayerHeight, s.cfg.MaxLayers, s.materials)
}

func (s *Session) touch() { s.version++ }

func (s *Session) publish(kind events.Kind, playerID int, payload any) {
	s.bus.Publish(events.New(kind, s.water.Elapsed(), playerID, payload))
}

// reject logs a failed command and notifies its issuer.
func (s *Session) reject(command string, issuer int, err error) error {
	s.logger.Warn("command rejected",
		zap.String("command", command),
		zap.Int("player", issuer),
		zap.Error(err),
	)
	s.publish(events.KindCommandRejected, issuer, events.CommandRejected{Command: command, Reason: err.Error()})
	return err
}

func (s *Session) connectedPlayer(id int) (*Player, error) {
	p, ok := s.players.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPlayer, id)
	}
	if !p.Connected() {
		return nil, fmt.Errorf("%w: %d", ErrNotConnected, id)
	}
	return p, nil
}

func (s *Session) requirePhase(allowed ...Phase) error {
	phase := s.machine.Phase()
	for _, a := range allowed {
		if phase == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongPhase, phase)
}

func (s *Session) removePlayer(p *Player, reason string) {
	s.cancelGrace(p.ID)
	s.players.Remove(p.ID)
	s.touch()
	s.logger.Info("player removed", zap.Int("player", p.ID), zap.String("reason", reason))
	s.publish(events.KindPlayerDisconnected, p.ID, events.PlayerChanged{Name: p.Name, Reason: reason})
}

func (s *Session) maybeStart() {
	if s.machine.Phase() != PhaseWaitingForPlayers {
		return
	}
	if s.players.ConnectedCount() < s.cfg.RequiredPlayers {
		return
	}
	if s.cfg.RequireReady && !s.players.AllReady() {
		return
	}
	if err := s.machine.Transition(PhaseStarting); err != nil {
		s.logger.Warn("auto start failed", zap.Error(err))
	}
}

func (s *Session) startGrace(id int) {
	s.cancelGrace(id)
	s.grace[id] = s.sched.After(fmt.Sprintf("grace:%d", id), s.cfg.ReconnectGrace.Seconds(), func() {
		s.expireGrace(id)
	})
}

func (s *Session) cancelGrace(id int) {
	if tok, ok := s.grace[id]; ok {
		s.sched.Cancel(tok)
		delete(s.grace, id)
	}
}

func (s *Session) cancelAllGrace() {
	for id := range s.grace {
		s.cancelGrace(id)
	}
}

// expireGrace turns a lapsed reconnect window into a terminal disconnect
// and judges the round immediately.
func (s *Session) expireGrace(id int) {
	delete(s.grace, id)
	p, ok := s.players.Get(id)
	if !ok || p.Status != StatusReconnecting {
		return
	}

	p.Status = StatusDisconnected
	s.touch()
	s.logger.Info("reconnect window lapsed", zap.Int("player", id))
	s.publish(events.KindPlayerDisconnected, id, events.PlayerChanged{Name: p.Name, Reason: "grace_expired"})

	if phase := s.machine.Phase(); phase == PhaseInProgress || phase == PhasePaused {
		s.evaluate()
	}
}

func (s *Session) contestants() []Contestant {
	all := s.players.All()
	out := make([]Contestant, 0, len(all))
	for _, p := range all {
		out = append(out, Contestant{
			ID:           p.ID,
			Height:       p.Dike.TotalHeight(),
			Disconnected: p.Status == StatusDisconnected,
		})
	}
	return out
}

func (s *Session) evaluate() {
	if s.judge.Decided() {
		return
	}

	ev := s.judge.Evaluate(s.water.Level(), s.water.Elapsed(), s.contestants())
	if ev.EnteredOvertime {
		s.touch()
		s.logger.Info("overtime started",
			zap.Duration("extension", s.cfg.OvertimeExtension),
			zap.Float64("deadline", s.judge.Deadline()),
		)
		s.publish(events.KindOvertimeStarted, 0, events.Overtime{
			Extension: s.cfg.OvertimeExtension.Seconds(),
			Deadline:  s.judge.Deadline(),
		})
	}
	if ev.Decided {
		_ = s.declare(ev.Outcome)
	}
}

// declare commits an outcome once, updates player states, publishes the
// result and, when configured, winds the session down.
func (s *Session) declare(o Outcome) error {
	rec, err := s.judge.Declare(o, s.water.Elapsed(), s.clock.Now())
	if err != nil {
		return err
	}
	s.touch()

	payload := events.Outcome{
		WinnerID:  rec.WinnerID,
		LoserID:   rec.LoserID,
		Condition: rec.Condition.String(),
		Overtime:  rec.Overtime,
	}
	if loser, ok := s.players.Get(rec.LoserID); ok {
		loser.State = PlayerDefeated
		s.publish(events.KindPlayerDefeated, loser.ID, payload)
	}
	if winner, ok := s.players.Get(rec.WinnerID); ok {
		winner.State = PlayerVictorious
		s.publish(events.KindPlayerVictorious, winner.ID, payload)
	}

	s.logger.Info("victory declared",
		zap.Int("winner", rec.WinnerID),
		zap.Int("loser", rec.LoserID),
		zap.String("condition", rec.Condition.String()),
		zap.Float64("elapsed", rec.DeclaredAt),
		zap.Bool("overtime", rec.Overtime),
	)
	s.publish(events.KindGameEnded, 0, payload)

	if s.cfg.AutoEndOnVictory {
		if err := s.machine.Transition(PhaseEnding); err != nil {
			s.logger.Warn("wind down failed", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) publishWater() {
	level := s.water.Level()
	if level == s.lastWater {
		return
	}
	s.lastWater = level
	s.publish(events.KindWaterRisen, 0, events.WaterRisen{Level: level, Speed: s.water.Speed()})
}

func (s *Session) refreshAlerts() {
	for _, p := range s.players.All() {
		s.refreshAlert(p)
	}
}

func (s *Session) refreshAlert(p *Player) {
	if p.State != PlayerPlaying {
		return
	}
	height := p.Dike.TotalHeight()
	level := AlertFor(s.water.Level(), height, s.alerts)
	if level == p.Alert {
		return
	}

	prev := p.Alert
	p.Alert = level
	ratio := 0.0
	if height > 0 {
		ratio = s.water.Level() / height
	}
	s.publish(events.KindWaterAlertChanged, p.ID, events.WaterAlert{
		Previous: prev.String(),
		Current:  level.String(),
		Ratio:    ratio,
	})
}

// =============================================================================
// PHASE HOOKS
// =============================================================================

func (s *Session) exitPhase(from, _ Phase) {
	if from == PhaseInProgress {
		s.water.Stop()
	}
}

func (s *Session) enterPhase(to, from Phase) {
	switch to {
	case PhaseStarting:
		s.machine.Schedule(PhaseInProgress, s.cfg.CountdownDelay.Seconds())

	case PhaseInProgress:
		if from != PhasePaused {
			s.beginRound()
		}
		s.water.Start()

	case PhaseEnding:
		s.cancelAllGrace()
		s.machine.Schedule(PhaseOver, s.cfg.EndingDelay.Seconds())

	case PhaseWaitingForPlayers:
		if from == PhaseStarting {
			for _, p := range s.players.All() {
				if p.State != PlayerReady {
					p.State = PlayerWaiting
				}
			}
			return
		}
		s.prepareNextRound()
	}
}

func (s *Session) phaseChanged(from, to Phase, forced bool, n uint64) {
	s.touch()
	s.logger.Info("phase changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Bool("forced", forced),
		zap.Uint64("transition", n),
	)
	s.publish(events.KindPhaseChanged, 0, events.PhaseChanged{
		From:       from.String(),
		To:         to.String(),
		Forced:     forced,
		Transition: n,
	})
}

// beginRound resets water, time and dikes for a fresh round.
func (s *Session) beginRound() {
	s.water.Reset(s.cfg.InitialWaterLevel)
	s.lastWater = s.water.Level()
	s.judge.Reset()
	s.autoPaused = false

	for _, p := range s.players.All() {
		if err := p.Dike.Seed(Material(s.cfg.DefaultMaterial)); err != nil {
			s.logger.Error("seed dike failed", zap.Int("player", p.ID), zap.Error(err))
		}
		p.State = PlayerPlaying
		p.Stats = Statistics{}
		p.Alert = AlertFor(s.water.Level(), p.Dike.TotalHeight(), s.alerts)
	}
}

// prepareNextRound drops players without a live link and readies the rest
// for a rematch.
func (s *Session) prepareNextRound() {
	s.cancelAllGrace()
	for _, p := range s.players.All() {
		if !p.Connected() {
			s.removePlayer(p, "reset")
			continue
		}
		p.Ready = false
		p.State = PlayerWaiting
		p.Alert = AlertSafe
		if err := p.Dike.Seed(Material(s.cfg.DefaultMaterial)); err != nil {
			s.logger.Error("seed dike failed", zap.Int("player", p.ID), zap.Error(err))
		}
	}
	s.water.Reset(s.cfg.InitialWaterLevel)
	s.lastWater = s.water.Level()
	s.judge.Reset()
	s.autoPaused = false
}
