package game

import (
	"time"
)

// Contestant is one player's standing as seen by the Evaluator.
type Contestant struct {
	ID           int
	Height       float64
	Disconnected bool
}

// Outcome is a decision the Evaluator reached. WinnerID is NoWinner for a draw.
type Outcome struct {
	WinnerID  int
	LoserID   int
	Condition Condition
}

// Evaluation is the result of one rule pass.
type Evaluation struct {
	Outcome         Outcome
	Decided         bool
	EnteredOvertime bool
}

// VictoryRecord is a committed outcome.
type VictoryRecord struct {
	WinnerID     int       `json:"winnerId"`
	LoserID      int       `json:"loserId"`
	Condition    Condition `json:"condition"`
	DeclaredAt   float64   `json:"declaredAt"`
	DeclaredWall time.Time `json:"declaredWall"`
	Overtime     bool      `json:"overtime"`
}

// Evaluator judges the round. Rules run in priority order: flooding,
// disconnection, time limit. Surrender is applied directly by the session.
// At most one record is active per round.
type Evaluator struct {
	interval   float64
	sinceCheck float64

	maxDuration float64 // 0 = unlimited
	extension   float64
	deadline    float64
	overtime    bool

	active  *VictoryRecord
	history []VictoryRecord
}

// NewEvaluator creates an evaluator that checks every interval seconds.
func NewEvaluator(interval, maxDuration, overtimeExtension float64) *Evaluator {
	return &Evaluator{
		interval:    interval,
		maxDuration: maxDuration,
		extension:   overtimeExtension,
		deadline:    maxDuration,
	}
}

// Due accumulates dt and reports whether a periodic check is owed.
func (e *Evaluator) Due(dt float64) bool {
	e.sinceCheck += dt
	if e.sinceCheck+dueEpsilon < e.interval {
		return false
	}
	e.sinceCheck = 0
	return true
}

// DeadlinePassed reports whether elapsed has reached the active time limit.
func (e *Evaluator) DeadlinePassed(elapsed float64) bool {
	return e.deadline > 0 && elapsed+dueEpsilon >= e.deadline
}

// Deadline returns the active time limit, 0 when unlimited.
func (e *Evaluator) Deadline() float64 { return e.deadline }

// InOvertime reports whether the overtime extension has been applied.
func (e *Evaluator) InOvertime() bool { return e.overtime }

// RemainingTime returns seconds until the active time limit. The second
// result is false when the round is unlimited.
func (e *Evaluator) RemainingTime(elapsed float64) (float64, bool) {
	if e.deadline <= 0 {
		return 0, false
	}
	left := e.deadline - elapsed
	if left < 0 {
		left = 0
	}
	return left, true
}

// Evaluate applies the rules in priority order and stops at the first match.
// It never commits; call Declare with the outcome.
func (e *Evaluator) Evaluate(water, elapsed float64, players []Contestant) Evaluation {
	if e.active != nil || len(players) == 0 {
		return Evaluation{}
	}

	if out, ok := floodingRule(water, players); ok {
		return Evaluation{Outcome: out, Decided: true}
	}
	if out, ok := disconnectionRule(players); ok {
		return Evaluation{Outcome: out, Decided: true}
	}
	if e.DeadlinePassed(elapsed) {
		return e.timeLimitRule(players)
	}
	return Evaluation{}
}

// floodingRule defeats every player whose dike the water tops. With one
// survivor, the survivor wins. When everyone floods, the tallest dike wins
// and an exact tie is a draw.
func floodingRule(water float64, players []Contestant) (Outcome, bool) {
	var flooded, dry []Contestant
	for _, p := range players {
		if water > p.Height {
			flooded = append(flooded, p)
		} else {
			dry = append(dry, p)
		}
	}
	if len(flooded) == 0 {
		return Outcome{}, false
	}

	switch len(dry) {
	case 1:
		return Outcome{WinnerID: dry[0].ID, LoserID: flooded[0].ID, Condition: ConditionFlooding}, true
	case 0:
		winner, loser, ok := tallest(flooded)
		if !ok {
			return Outcome{WinnerID: NoWinner, LoserID: NoWinner, Condition: ConditionDraw}, true
		}
		return Outcome{WinnerID: winner, LoserID: loser, Condition: ConditionFlooding}, true
	}
	return Outcome{}, false
}

func disconnectionRule(players []Contestant) (Outcome, bool) {
	var gone, present []Contestant
	for _, p := range players {
		if p.Disconnected {
			gone = append(gone, p)
		} else {
			present = append(present, p)
		}
	}
	if len(gone) == 0 {
		return Outcome{}, false
	}

	switch len(present) {
	case 1:
		return Outcome{WinnerID: present[0].ID, LoserID: gone[0].ID, Condition: ConditionEnemyDisconnected}, true
	case 0:
		return Outcome{WinnerID: NoWinner, LoserID: NoWinner, Condition: ConditionDraw}, true
	}
	return Outcome{}, false
}

func (e *Evaluator) timeLimitRule(players []Contestant) Evaluation {
	winner, loser, ok := tallest(players)
	if ok {
		return Evaluation{
			Outcome: Outcome{WinnerID: winner, LoserID: loser, Condition: ConditionTimeLimitReached},
			Decided: true,
		}
	}

	if !e.overtime && e.extension > 0 {
		e.overtime = true
		e.deadline += e.extension
		return Evaluation{EnteredOvertime: true}
	}

	return Evaluation{
		Outcome: Outcome{WinnerID: NoWinner, LoserID: NoWinner, Condition: ConditionDraw},
		Decided: true,
	}
}

// tallest returns the strictly tallest contestant and the shortest other one.
func tallest(players []Contestant) (winner, loser int, ok bool) {
	if len(players) == 0 {
		return NoWinner, NoWinner, false
	}
	best, worst := players[0], players[0]
	tie := false
	for _, p := range players[1:] {
		switch {
		case p.Height > best.Height:
			best, tie = p, false
		case p.Height == best.Height:
			tie = true
		}
		if p.Height < worst.Height {
			worst = p
		}
	}
	if tie || len(players) == 1 {
		return NoWinner, NoWinner, false
	}
	return best.ID, worst.ID, true
}

// Declare commits an outcome. Only the first declaration of a round sticks.
func (e *Evaluator) Declare(o Outcome, elapsed float64, wall time.Time) (VictoryRecord, error) {
	if e.active != nil {
		return *e.active, ErrAlreadyDeclared
	}

	rec := VictoryRecord{
		WinnerID:     o.WinnerID,
		LoserID:      o.LoserID,
		Condition:    o.Condition,
		DeclaredAt:   elapsed,
		DeclaredWall: wall,
		Overtime:     e.overtime,
	}
	e.active = &rec
	e.history = append(e.history, rec)
	return rec, nil
}

// Active returns the committed record for the current round.
func (e *Evaluator) Active() (VictoryRecord, bool) {
	if e.active == nil {
		return VictoryRecord{}, false
	}
	return *e.active, true
}

// Decided reports whether the current round has a record.
func (e *Evaluator) Decided() bool { return e.active != nil }

// History returns every record declared across rounds, oldest first.
func (e *Evaluator) History() []VictoryRecord {
	out := make([]VictoryRecord, len(e.history))
	copy(out, e.history)
	return out
}

// Reset prepares for a new round. History is kept.
func (e *Evaluator) Reset() {
	e.active = nil
	e.sinceCheck = 0
	e.overtime = false
	e.deadline = e.maxDuration
}
