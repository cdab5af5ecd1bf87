package game

import (
	"testing"
	"time"

	"flood-duel/internal/clock/mocks"
	"flood-duel/internal/config"
	"flood-duel/internal/events"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fastConfig() config.Session {
	cfg := config.DefaultSession()
	cfg.CountdownDelay = time.Second
	cfg.EndingDelay = time.Second
	cfg.WaterStartDelay = time.Minute
	cfg.ReconnectGrace = 5 * time.Second
	return cfg
}

type SessionTestSuite struct {
	suite.Suite
	mockCtrl  *gomock.Controller
	mockClock *mocks.MockClock
	logCore   zapcore.Core
	logs      *observer.ObservedLogs
	testTime  time.Time

	cfg     config.Session
	session *Session
	seen    []events.Event
}

func (s *SessionTestSuite) SetupTest() {
	s.mockCtrl = gomock.NewController(s.T())
	s.mockClock = mocks.NewMockClock(s.mockCtrl)
	s.testTime = time.Date(2025, 4, 5, 10, 0, 0, 0, time.UTC)
	s.mockClock.EXPECT().Now().Return(s.testTime).AnyTimes()

	s.logCore, s.logs = observer.New(zap.InfoLevel)
	s.cfg = fastConfig()
	s.seen = nil
	s.build()
}

func (s *SessionTestSuite) TearDownTest() {
	s.mockCtrl.Finish()
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

// build recreates the session from s.cfg.
func (s *SessionTestSuite) build() {
	session, err := NewSession(&s.cfg, WithLogger(zap.New(s.logCore)), WithClock(s.mockClock))
	s.Require().NoError(err)
	s.session = session
	s.seen = nil
	session.Bus().SubscribeAll(func(e events.Event) error {
		s.seen = append(s.seen, e)
		return nil
	})
}

func (s *SessionTestSuite) run(seconds float64) {
	const dt = 0.1
	for t := 0.0; t < seconds-1e-9; t += dt {
		s.session.Tick(dt)
	}
}

func (s *SessionTestSuite) count(kind events.Kind) int {
	n := 0
	for _, e := range s.seen {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (s *SessionTestSuite) last(kind events.Kind) (events.Event, bool) {
	for i := len(s.seen) - 1; i >= 0; i-- {
		if s.seen[i].Kind == kind {
			return s.seen[i], true
		}
	}
	return events.Event{}, false
}

// startMatch connects two players and runs out the countdown.
func (s *SessionTestSuite) startMatch() (int, int) {
	host, err := s.session.Connect("Alice", true)
	s.Require().NoError(err)
	guest, err := s.session.Connect("Bob", false)
	s.Require().NoError(err)
	s.Require().Equal(PhaseStarting, s.session.Phase())

	s.run(1)
	s.Require().Equal(PhaseInProgress, s.session.Phase())
	return host, guest
}

func (s *SessionTestSuite) TestNewSessionRequiresConfig() {
	_, err := NewSession(nil)
	s.ErrorIs(err, ErrConfigurationMissing)

	bad := fastConfig()
	bad.MaterialHealth = nil
	_, err = NewSession(&bad)
	s.ErrorIs(err, ErrConfigurationMissing)
}

func (s *SessionTestSuite) TestCountdownStartsRound() {
	host, guest := s.startMatch()

	s.Equal(1, host)
	s.Equal(2, guest)
	s.Equal(2, s.session.ConnectedCount())

	snap := s.session.Snapshot()
	s.Equal(PhaseInProgress, snap.Phase)
	s.Require().Len(snap.Players, 2)
	for _, p := range snap.Players {
		s.Equal(PlayerPlaying, p.State)
		s.Equal(1.0, p.TotalHeight)
	}
	s.Equal(2, s.count(events.KindPhaseChanged))
}

func (s *SessionTestSuite) TestCapacityAndLateJoin() {
	s.startMatch()

	_, err := s.session.Connect("Carol", false)
	s.ErrorIs(err, ErrCapacityExceeded)

	_, err = s.session.Connect("Alice", true)
	s.ErrorIs(err, ErrNameInUse)
}

func (s *SessionTestSuite) TestRequireReady() {
	s.cfg.RequireReady = true
	s.build()

	a, _ := s.session.Connect("Alice", true)
	b, _ := s.session.Connect("Bob", false)
	s.Equal(PhaseWaitingForPlayers, s.session.Phase())

	s.Require().NoError(s.session.SetReady(a, true))
	s.Equal(PhaseWaitingForPlayers, s.session.Phase())
	s.Require().NoError(s.session.SetReady(b, true))
	s.Equal(PhaseStarting, s.session.Phase())

	s.Require().NoError(s.session.SetReady(b, false))
	s.Equal(PhaseWaitingForPlayers, s.session.Phase())

	s.run(2)
	s.Equal(PhaseWaitingForPlayers, s.session.Phase())
}

func (s *SessionTestSuite) TestDisconnectDuringCountdownAborts() {
	s.session.Connect("Alice", true)
	guest, _ := s.session.Connect("Bob", false)
	s.Require().Equal(PhaseStarting, s.session.Phase())

	s.Require().NoError(s.session.Disconnect(guest))
	s.Equal(PhaseWaitingForPlayers, s.session.Phase())
	s.Equal(1, s.session.ConnectedCount())

	s.run(2)
	s.Equal(PhaseWaitingForPlayers, s.session.Phase())
}

// Three 40-damage attacks strip a fresh stone layer.
func (s *SessionTestSuite) TestAttackStripsLayer() {
	host, guest := s.startMatch()

	for i := 0; i < 3; i++ {
		s.Require().NoError(s.session.AttackDike(guest, host, 40))
	}

	height, ok := s.session.TotalHeight(host)
	s.Require().True(ok)
	s.Equal(0.0, height)
	s.Equal(2, s.count(events.KindDikeLayerDamaged))
	s.Equal(1, s.count(events.KindDikeLayerDestroyed))

	snap := s.session.Snapshot()
	p, _ := snap.Player(guest)
	s.Equal(100.0, p.Stats.DamageDealt)
	victim, _ := snap.Player(host)
	s.Equal(1, victim.Stats.LayersLost)
	s.Empty(victim.Layers)

	// Nothing left to hit.
	s.Require().NoError(s.session.AttackDike(guest, host, 40))
	s.Equal(1, s.count(events.KindDikeLayerDestroyed))
}

func (s *SessionTestSuite) TestBuildDike() {
	host, _ := s.startMatch()

	s.Require().NoError(s.session.BuildDike(host, "iron"))
	height, _ := s.session.TotalHeight(host)
	s.Equal(2.0, height)

	e, ok := s.last(events.KindDikeGrown)
	s.Require().True(ok)
	s.Equal(host, e.PlayerID)
	s.Equal(events.DikeChanged{Material: "iron", Health: 200, MaxHealth: 200, Layers: 2, Height: 2}, e.Payload)

	err := s.session.BuildDike(host, "wood")
	s.ErrorIs(err, ErrInvalidMaterial)
}

func (s *SessionTestSuite) TestCommandRejections() {
	host, err := s.session.Connect("Alice", true)
	s.Require().NoError(err)

	s.ErrorIs(s.session.BuildDike(host, "stone"), ErrWrongPhase)
	s.ErrorIs(s.session.BuildDike(99, "stone"), ErrUnknownPlayer)
	s.ErrorIs(s.session.AttackDike(host, host, 10), ErrSelfTarget)
	s.ErrorIs(s.session.AttackDike(host, 7, 10), ErrUnknownPlayer)
	s.ErrorIs(s.session.RequestPause(host), ErrWrongPhase)
	s.ErrorIs(s.session.Reset(), ErrInvalidTransition)

	s.Equal(6, s.count(events.KindCommandRejected))
	e, _ := s.last(events.KindCommandRejected)
	s.Equal("reset", e.Payload.(events.CommandRejected).Command)
	s.NotZero(s.logs.FilterMessage("command rejected").Len())
}

func (s *SessionTestSuite) TestInvalidDamageRejected() {
	host, guest := s.startMatch()
	s.ErrorIs(s.session.AttackDike(guest, host, -1), ErrInvalidDamage)
	height, _ := s.session.TotalHeight(host)
	s.Equal(1.0, height)
}

// Water tops one dike while the other stands: the survivor wins, once.
func (s *SessionTestSuite) TestFloodingVictory() {
	s.cfg.WaterStartDelay = 0
	s.cfg.WaterBaseSpeed = 1
	s.cfg.WaterAcceleration = 0
	s.build()

	host, guest := s.startMatch()
	s.Require().NoError(s.session.BuildDike(guest, "stone"))
	s.Require().NoError(s.session.BuildDike(guest, "stone"))

	s.run(1.6)
	s.Equal(PhaseEnding, s.session.Phase())

	rec, ok := s.session.Winner()
	s.Require().True(ok)
	s.Equal(guest, rec.WinnerID)
	s.Equal(host, rec.LoserID)
	s.Equal(ConditionFlooding, rec.Condition)
	s.Equal(s.testTime, rec.DeclaredWall)

	s.run(0.5)
	s.Equal(1, s.count(events.KindGameEnded))
	s.Equal(1, s.count(events.KindPlayerVictorious))
	s.Equal(1, s.count(events.KindPlayerDefeated))

	s.run(1)
	s.Equal(PhaseOver, s.session.Phase())
	s.Len(s.session.History(), 1)
	s.NotZero(s.count(events.KindWaterRisen))
	s.NotZero(s.count(events.KindWaterAlertChanged))
}

// A tie at the limit extends the round once and a second tie draws.
func (s *SessionTestSuite) TestOvertimeOnTie() {
	s.cfg.MaxDuration = 10 * time.Second
	s.cfg.OvertimeExtension = 5 * time.Second
	s.build()
	s.startMatch()

	s.run(10)
	s.Equal(1, s.count(events.KindOvertimeStarted))
	s.Equal(PhaseInProgress, s.session.Phase())
	left, limited := s.session.RemainingTime()
	s.True(limited)
	s.InDelta(5.0, left, 1e-6)

	s.run(4)
	s.Equal(1, s.count(events.KindOvertimeStarted))
	s.Equal(0, s.count(events.KindGameEnded))

	s.run(1.5)
	s.Equal(1, s.count(events.KindOvertimeStarted))
	rec, ok := s.session.Winner()
	s.Require().True(ok)
	s.Equal(ConditionDraw, rec.Condition)
	s.Equal(NoWinner, rec.WinnerID)
	s.True(rec.Overtime)

	snap := s.session.Snapshot()
	s.True(snap.Decided)
	s.True(snap.Overtime)
}

func (s *SessionTestSuite) TestTimeLimitTallerWins() {
	s.cfg.MaxDuration = 10 * time.Second
	s.build()
	host, _ := s.startMatch()
	s.Require().NoError(s.session.BuildDike(host, "stone"))

	s.run(10.2)
	rec, ok := s.session.Winner()
	s.Require().True(ok)
	s.Equal(host, rec.WinnerID)
	s.Equal(ConditionTimeLimitReached, rec.Condition)
	s.Equal(0, s.count(events.KindOvertimeStarted))
}

func (s *SessionTestSuite) TestPauseFreezesTime() {
	host, guest := s.startMatch()
	s.run(2)
	elapsed := s.session.ElapsedTime()

	s.Require().NoError(s.session.RequestPause(host))
	s.Equal(PhasePaused, s.session.Phase())
	s.run(3)
	s.Equal(elapsed, s.session.ElapsedTime())
	s.ErrorIs(s.session.BuildDike(host, "stone"), ErrWrongPhase)

	s.Require().NoError(s.session.RequestResume(guest))
	s.Equal(PhaseInProgress, s.session.Phase())
	s.run(1)
	s.InDelta(elapsed+1, s.session.ElapsedTime(), 1e-6)

	// Resuming does not start a new round.
	height, _ := s.session.TotalHeight(host)
	s.Equal(1.0, height)
}

func (s *SessionTestSuite) TestReconnectWithinGraceResumes() {
	_, guest := s.startMatch()

	s.Require().NoError(s.session.Disconnect(guest))
	s.Equal(PhasePaused, s.session.Phase())
	snap := s.session.Snapshot()
	p, _ := snap.Player(guest)
	s.Equal(StatusReconnecting, p.Status)

	s.ErrorIs(s.session.RequestResume(1), ErrAwaitingReconnect)

	s.run(3)
	id, err := s.session.Connect("bob", false)
	s.Require().NoError(err)
	s.Equal(guest, id)
	s.Equal(PhaseInProgress, s.session.Phase())
	s.Equal(1, s.count(events.KindPlayerReconnected))

	s.run(5)
	_, decided := s.session.Winner()
	s.False(decided)
}

func (s *SessionTestSuite) TestJoinNeverReclaimsADroppedSeat() {
	host, guest := s.startMatch()
	s.Require().NoError(s.session.Disconnect(guest))

	_, err := s.session.Join("Bob", false)
	s.ErrorIs(err, ErrNameInUse)

	_, err = s.session.Rejoin(guest, "Mallory")
	s.ErrorIs(err, ErrNameInUse)
	_, err = s.session.Rejoin(host, "Alice")
	s.ErrorIs(err, ErrNameInUse)
	s.Equal(PhasePaused, s.session.Phase())

	id, err := s.session.Rejoin(guest, " bob ")
	s.Require().NoError(err)
	s.Equal(guest, id)
	s.Equal(PhaseInProgress, s.session.Phase())
}

func (s *SessionTestSuite) TestGraceExpiryForfeits() {
	host, guest := s.startMatch()

	s.Require().NoError(s.session.Disconnect(guest))
	s.run(5.1)

	rec, ok := s.session.Winner()
	s.Require().True(ok)
	s.Equal(host, rec.WinnerID)
	s.Equal(guest, rec.LoserID)
	s.Equal(ConditionEnemyDisconnected, rec.Condition)
	s.Equal(PhaseEnding, s.session.Phase())

	e, ok := s.last(events.KindPlayerDisconnected)
	s.Require().True(ok)
	s.Equal("grace_expired", e.Payload.(events.PlayerChanged).Reason)
}

func (s *SessionTestSuite) TestSurrender() {
	host, guest := s.startMatch()

	s.Require().NoError(s.session.Surrender(host))
	rec, ok := s.session.Winner()
	s.Require().True(ok)
	s.Equal(guest, rec.WinnerID)
	s.Equal(ConditionSurrender, rec.Condition)
	s.Equal(PhaseEnding, s.session.Phase())

	s.ErrorIs(s.session.Surrender(guest), ErrWrongPhase)
}

func (s *SessionTestSuite) TestSurrenderDisabled() {
	s.cfg.SurrenderEnabled = false
	s.build()
	host, _ := s.startMatch()
	s.ErrorIs(s.session.Surrender(host), ErrSurrenderDisabled)
}

func (s *SessionTestSuite) TestResetKeepsPlayersForRematch() {
	host, guest := s.startMatch()
	s.Require().NoError(s.session.BuildDike(host, "steel"))
	s.Require().NoError(s.session.Surrender(guest))
	s.run(1)
	s.Require().Equal(PhaseOver, s.session.Phase())

	s.Require().NoError(s.session.Reset())
	s.Equal(PhaseStarting, s.session.Phase())
	_, decided := s.session.Winner()
	s.False(decided)
	s.Len(s.session.History(), 1)

	height, _ := s.session.TotalHeight(host)
	s.Equal(1.0, height)
	s.Equal(0.0, s.session.ElapsedTime())

	s.run(1)
	s.Equal(PhaseInProgress, s.session.Phase())
}

func (s *SessionTestSuite) TestForcePhase() {
	s.Require().NoError(s.session.ForcePhase(PhaseOver))
	s.Equal(PhaseOver, s.session.Phase())

	e, ok := s.last(events.KindPhaseChanged)
	s.Require().True(ok)
	s.True(e.Payload.(events.PhaseChanged).Forced)

	s.ErrorIs(s.session.ForcePhase(PhaseOver), ErrAlreadyInPhase)
}

func (s *SessionTestSuite) TestExecuteDispatches() {
	host, guest := s.startMatch()

	s.Require().NoError(s.session.Execute(Command{Kind: CommandBuild, Issuer: host, Material: "stone"}))
	s.Require().NoError(s.session.Execute(Command{Kind: CommandAttack, Issuer: guest, Target: host, Damage: 10}))
	s.Require().NoError(s.session.Execute(Command{Kind: CommandLatency, Issuer: guest, LatencyMs: 250}))
	s.Require().NoError(s.session.Execute(Command{Kind: CommandResources, Issuer: host, Amount: 3}))
	s.Require().NoError(s.session.Execute(Command{Kind: CommandLocation, Issuer: host, Location: LocationUnderground}))
	s.ErrorIs(s.session.Execute(Command{Kind: CommandKind(200), Issuer: host}), ErrInvalidCommand)

	snap := s.session.Snapshot()
	h, _ := snap.Player(host)
	s.Equal(2.0, h.TotalHeight)
	s.Equal(90.0, h.Layers[1].Health)
	s.Equal(3, h.Stats.ResourcesCollected)
	s.Equal(LocationUnderground, h.Location)
	g, _ := snap.Player(guest)
	s.False(g.Network.Stable)
	s.Equal(250.0, g.Network.LatencyMs)
}

func (s *SessionTestSuite) TestVersionAdvancesOnChange() {
	v0 := s.session.Version()
	s.session.Connect("Alice", true)
	s.Greater(s.session.Version(), v0)

	v1 := s.session.Version()
	s.session.Tick(0.1)
	s.Equal(v1, s.session.Version())
}

func (s *SessionTestSuite) TestTelemetryCommandsValidate() {
	host, _ := s.startMatch()
	v := s.session.Version()

	s.ErrorIs(s.session.UpdateLocation(host, Location(9)), ErrInvalidCommand)
	s.ErrorIs(s.session.ReportLatency(host, -1), ErrInvalidAmount)
	s.ErrorIs(s.session.RecordResources(host, 0), ErrInvalidAmount)
	s.ErrorIs(s.session.RecordResources(42, 1), ErrUnknownPlayer)
	s.Equal(v, s.session.Version(), "rejected commands change nothing")
	s.Equal(4, s.count(events.KindCommandRejected))

	s.Require().NoError(s.session.ReportLatency(host, 120))
	p, _ := s.session.Snapshot().Player(host)
	s.True(p.Network.Stable)
}
