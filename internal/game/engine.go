package game

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// request is a unit of work run on the engine goroutine.
type request struct {
	fn    func(*Session) error
	reply chan error
}

// Engine drives a Session at a fixed tick rate. Every mutation, ticks and
// commands alike, runs on one goroutine, so the session never needs a lock.
// Readers get immutable snapshots through an atomic pointer.
type Engine struct {
	session  *Session
	tickRate int
	delta    float64

	requests chan request
	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}

	latest      atomic.Pointer[Snapshot]
	lastVersion uint64
	tickCount   atomic.Int64

	// Callbacks run on the engine goroutine and must not block.
	onTick     func(time.Duration)
	onSnapshot func(*Snapshot)

	logger *zap.Logger
}

// NewEngine creates an engine for session ticking tickRate times a second.
func NewEngine(session *Session, tickRate int, logger *zap.Logger) *Engine {
	if tickRate <= 0 {
		tickRate = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		session:  session,
		tickRate: tickRate,
		delta:    1.0 / float64(tickRate),
		requests: make(chan request, 64),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Named("engine"),
	}
	snap := session.Snapshot()
	e.lastVersion = snap.Version
	e.latest.Store(snap)
	return e
}

// SetCallbacks registers tick and snapshot observers. Call before Start.
func (e *Engine) SetCallbacks(onTick func(time.Duration), onSnapshot func(*Snapshot)) {
	e.onTick = onTick
	e.onSnapshot = onSnapshot
}

// Start begins the game loop. An engine cannot be restarted after Stop.
func (e *Engine) Start() {
	if e.stopped.Load() || !e.running.CompareAndSwap(false, true) {
		return
	}

	go e.loop()

	e.logger.Info("engine started",
		zap.Int("tick_rate", e.tickRate),
		zap.String("session", e.session.ID().String()),
	)
}

// Stop halts the game loop and waits for it to exit. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		close(e.stopChan)
		if e.running.Swap(false) {
			<-e.done
		}
		e.logger.Info("engine stopped", zap.Int64("ticks", e.tickCount.Load()))
	})
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool { return e.running.Load() }

// TickRate returns ticks per second.
func (e *Engine) TickRate() int { return e.tickRate }

// TickCount returns the number of ticks processed.
func (e *Engine) TickCount() int64 { return e.tickCount.Load() }

func (e *Engine) loop() {
	defer close(e.done)

	ticker := time.NewTicker(time.Second / time.Duration(e.tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.tick()
		case req := <-e.requests:
			err := req.fn(e.session)
			e.publishSnapshot()
			req.reply <- err
		case <-e.stopChan:
			return
		}
	}
}

func (e *Engine) tick() {
	start := time.Now()
	e.session.Tick(e.delta)
	e.tickCount.Add(1)
	e.publishSnapshot()
	if e.onTick != nil {
		e.onTick(time.Since(start))
	}
}

// publishSnapshot stores a fresh snapshot when the session changed.
func (e *Engine) publishSnapshot() {
	if v := e.session.Version(); v == e.lastVersion {
		return
	}
	snap := e.session.Snapshot()
	e.lastVersion = snap.Version
	e.latest.Store(snap)
	if e.onSnapshot != nil {
		e.onSnapshot(snap)
	}
}

// Do runs fn on the engine goroutine and returns its error. It fails with
// ErrEngineStopped when the loop is not running.
func (e *Engine) Do(ctx context.Context, fn func(*Session) error) error {
	if !e.running.Load() {
		return ErrEngineStopped
	}

	req := request{fn: fn, reply: make(chan error, 1)}
	select {
	case e.requests <- req:
	case <-e.stopChan:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.reply:
		return err
	case <-e.stopChan:
		select {
		case err := <-req.reply:
			return err
		default:
			return ErrEngineStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Snapshot returns the latest published state. Never nil.
func (e *Engine) Snapshot() *Snapshot { return e.latest.Load() }

// History returns every declared outcome.
func (e *Engine) History(ctx context.Context) ([]VictoryRecord, error) {
	var out []VictoryRecord
	err := e.Do(ctx, func(s *Session) error {
		out = s.History()
		return nil
	})
	return out, err
}

// Health reports whether the engine can serve commands.
func (e *Engine) Health() error {
	if !e.running.Load() {
		return ErrEngineStopped
	}
	return e.session.Health()
}

// Join admits a new player and returns its id.
func (e *Engine) Join(ctx context.Context, name string, isHost bool) (int, error) {
	var id int
	err := e.Do(ctx, func(s *Session) error {
		var err error
		id, err = s.Join(name, isHost)
		return err
	})
	return id, err
}

// Rejoin reattaches player id, which must still be called name.
func (e *Engine) Rejoin(ctx context.Context, id int, name string) (int, error) {
	var got int
	err := e.Do(ctx, func(s *Session) error {
		var err error
		got, err = s.Rejoin(id, name)
		return err
	})
	return got, err
}

// Disconnect reports that player id dropped.
func (e *Engine) Disconnect(ctx context.Context, id int) error {
	return e.Do(ctx, func(s *Session) error { return s.Disconnect(id) })
}

// Execute applies a participant command.
func (e *Engine) Execute(ctx context.Context, cmd Command) error {
	return e.Do(ctx, func(s *Session) error { return s.Execute(cmd) })
}

// Reset starts a fresh round after the session is over.
func (e *Engine) Reset(ctx context.Context) error {
	return e.Do(ctx, func(s *Session) error { return s.Reset() })
}

// ForcePhase moves the session to any phase.
func (e *Engine) ForcePhase(ctx context.Context, to Phase) error {
	return e.Do(ctx, func(s *Session) error { return s.ForcePhase(to) })
}
