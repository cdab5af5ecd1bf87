package game

import "math"

// WaterTimer advances the shared water level. It owns the round's elapsed
// time: both only move while the timer is running.
type WaterTimer struct {
	level   float64
	elapsed float64
	running bool

	startDelay   float64
	baseSpeed    float64
	acceleration float64
}

// NewWaterTimer creates a stopped timer at initialLevel.
func NewWaterTimer(initialLevel, startDelay, baseSpeed, acceleration float64) *WaterTimer {
	return &WaterTimer{
		level:        initialLevel,
		startDelay:   startDelay,
		baseSpeed:    baseSpeed,
		acceleration: acceleration,
	}
}

// Start resumes the timer. The remaining start delay is derived from
// elapsed time, so nothing banked before a pause carries over.
func (w *WaterTimer) Start() { w.running = true }

// Stop halts the timer; Tick is a no-op until Start.
func (w *WaterTimer) Stop() { w.running = false }

// Running reports whether the timer is advancing.
func (w *WaterTimer) Running() bool { return w.running }

// Reset stops the timer, zeroes elapsed time and sets the level.
func (w *WaterTimer) Reset(initialLevel float64) {
	w.running = false
	w.elapsed = 0
	w.level = initialLevel
}

// Tick advances elapsed time by dt and raises the level by the exact
// integral of the speed curve over the tick, so the result does not depend
// on tick size. Returns the rise.
func (w *WaterTimer) Tick(dt float64) float64 {
	if !w.running || !(dt > 0) || math.IsInf(dt, 0) {
		return 0
	}

	t0 := w.elapsed
	t1 := t0 + dt
	w.elapsed = t1
	if t1 <= w.startDelay {
		return 0
	}

	a := math.Max(t0, w.startDelay) - w.startDelay
	b := t1 - w.startDelay
	rise := w.baseSpeed*(b-a) + w.acceleration*(b*b-a*a)/2
	w.level += rise
	return rise
}

// Level returns the current water height.
func (w *WaterTimer) Level() float64 { return w.level }

// Elapsed returns seconds of running time this round.
func (w *WaterTimer) Elapsed() float64 { return w.elapsed }

// Speed returns the instantaneous rise rate.
func (w *WaterTimer) Speed() float64 {
	if w.elapsed < w.startDelay {
		return 0
	}
	return w.baseSpeed + w.acceleration*(w.elapsed-w.startDelay)
}

// RemainingDelay returns seconds of running time before the water moves.
func (w *WaterTimer) RemainingDelay() float64 {
	return math.Max(0, w.startDelay-w.elapsed)
}

// AlertThresholds are water/height ratios for each alert level.
type AlertThresholds struct {
	Caution  float64
	Warning  float64
	Critical float64
}

// AlertFor grades water against a dike height.
func AlertFor(water, height float64, t AlertThresholds) AlertLevel {
	if height <= 0 {
		return AlertFlooding
	}
	ratio := water / height
	switch {
	case ratio >= 1:
		return AlertFlooding
	case ratio >= t.Critical:
		return AlertCritical
	case ratio >= t.Warning:
		return AlertWarning
	case ratio >= t.Caution:
		return AlertCaution
	default:
		return AlertSafe
	}
}
