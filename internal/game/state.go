package game

import "fmt"

// Phase is the session's top-level state.
type Phase uint8

const (
	PhaseWaitingForPlayers Phase = iota
	PhaseStarting
	PhaseInProgress
	PhasePaused
	PhaseEnding
	PhaseOver
)

var phaseNames = []string{"waiting_for_players", "starting", "in_progress", "paused", "ending", "over"}

// AllPhases lists every phase in declaration order.
var AllPhases = []Phase{
	PhaseWaitingForPlayers, PhaseStarting, PhaseInProgress, PhasePaused, PhaseEnding, PhaseOver,
}

func (p Phase) String() string { return nameOf(phaseNames, uint8(p), "phase") }

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(text []byte) error {
	v, err := parseName(phaseNames, text, "phase")
	*p = Phase(v)
	return err
}

// legalTransitions is the complete transition table. Anything absent is rejected.
var legalTransitions = map[Phase][]Phase{
	PhaseWaitingForPlayers: {PhaseStarting},
	PhaseStarting:          {PhaseInProgress, PhaseWaitingForPlayers},
	PhaseInProgress:        {PhasePaused, PhaseEnding},
	PhasePaused:            {PhaseInProgress, PhaseEnding},
	PhaseEnding:            {PhaseOver},
	PhaseOver:              {PhaseWaitingForPlayers},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Phase) bool {
	for _, p := range legalTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// PhaseHooks run around every transition. Hooks may schedule work but must
// not issue transitions themselves.
type PhaseHooks struct {
	OnExit    func(from, to Phase)
	OnEnter   func(to, from Phase)
	OnChanged func(from, to Phase, forced bool, transition uint64)
	// OnDelayFailed reports a delayed transition that was rejected when it fell due.
	OnDelayFailed func(to Phase, err error)
}

// StateMachine owns the session phase. Delayed transitions go through the
// Scheduler and at most one is pending at a time.
type StateMachine struct {
	phase       Phase
	timeInPhase float64
	transitions uint64

	locked   bool
	disabled bool

	sched         *Scheduler
	delayed       TaskToken
	delayedTarget Phase

	hooks        PhaseHooks
	transitional bool
}

// NewStateMachine starts in PhaseWaitingForPlayers.
func NewStateMachine(sched *Scheduler, hooks PhaseHooks) *StateMachine {
	return &StateMachine{
		phase: PhaseWaitingForPlayers,
		sched: sched,
		hooks: hooks,
	}
}

// Phase returns the current phase.
func (m *StateMachine) Phase() Phase { return m.phase }

// TimeInPhase returns seconds spent in the current phase.
func (m *StateMachine) TimeInPhase() float64 { return m.timeInPhase }

// Transitions returns how many transitions have completed.
func (m *StateMachine) Transitions() uint64 { return m.transitions }

// Lock rejects normal transitions until Unlock.
func (m *StateMachine) Lock() { m.locked = true }

// Unlock re-admits normal transitions.
func (m *StateMachine) Unlock() { m.locked = false }

// Locked reports whether normal transitions are currently rejected by Lock.
func (m *StateMachine) Locked() bool { return m.locked }

// SetEnabled globally enables or disables normal transitions.
func (m *StateMachine) SetEnabled(enabled bool) { m.disabled = !enabled }

// Advance accumulates time in the current phase.
func (m *StateMachine) Advance(dt float64) {
	if dt > 0 {
		m.timeInPhase += dt
	}
}

// Transition moves to a phase permitted by the table.
func (m *StateMachine) Transition(to Phase) error {
	if err := m.check(to, false); err != nil {
		return err
	}
	m.apply(to, false)
	return nil
}

// Force moves to any phase other than the current one, ignoring the table,
// Lock and SetEnabled. Used for error recovery.
func (m *StateMachine) Force(to Phase) error {
	if err := m.check(to, true); err != nil {
		return err
	}
	m.apply(to, true)
	return nil
}

func (m *StateMachine) check(to Phase, forced bool) error {
	if m.transitional {
		return ErrReentrantTransition
	}
	if int(to) >= len(phaseNames) {
		return fmt.Errorf("%w: unknown phase %d", ErrInvalidTransition, to)
	}
	if to == m.phase {
		return fmt.Errorf("%w: %s", ErrAlreadyInPhase, to)
	}
	if forced {
		return nil
	}
	if m.disabled {
		return ErrTransitionsDisabled
	}
	if m.locked {
		return ErrTransitionsLocked
	}
	if !CanTransition(m.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.phase, to)
	}
	return nil
}

func (m *StateMachine) apply(to Phase, forced bool) {
	m.transitional = true
	from := m.phase

	m.CancelDelayed()
	if m.hooks.OnExit != nil {
		m.hooks.OnExit(from, to)
	}

	m.phase = to
	m.timeInPhase = 0
	m.transitions++

	if m.hooks.OnEnter != nil {
		m.hooks.OnEnter(to, from)
	}
	m.transitional = false

	if m.hooks.OnChanged != nil {
		m.hooks.OnChanged(from, to, forced, m.transitions)
	}
}

// Schedule arranges a normal transition to phase after delay seconds,
// replacing any pending delayed transition. It is cancelled by any
// transition that happens first.
func (m *StateMachine) Schedule(to Phase, delay float64) TaskToken {
	m.CancelDelayed()
	m.delayedTarget = to
	m.delayed = m.sched.After("transition:"+to.String(), delay, func() {
		m.delayed = 0
		if err := m.Transition(to); err != nil && m.hooks.OnDelayFailed != nil {
			m.hooks.OnDelayFailed(to, err)
		}
	})
	return m.delayed
}

// CancelDelayed drops the pending delayed transition, if any.
func (m *StateMachine) CancelDelayed() bool {
	if m.delayed == 0 {
		return false
	}
	ok := m.sched.Cancel(m.delayed)
	m.delayed = 0
	return ok
}

// Delayed returns the target and remaining seconds of the pending delayed
// transition.
func (m *StateMachine) Delayed() (Phase, float64, bool) {
	if m.delayed == 0 {
		return 0, 0, false
	}
	left, ok := m.sched.Remaining(m.delayed)
	if !ok {
		return 0, 0, false
	}
	return m.delayedTarget, left, true
}
