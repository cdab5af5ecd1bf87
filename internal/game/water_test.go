package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Water holds for the start delay, then follows base + accel*t.
func TestWaterTimerRiseCurve(t *testing.T) {
	w := NewWaterTimer(0, 60, 0.05, 0.01)
	w.Start()

	for i := 0; i < 60*30; i++ {
		w.Tick(1.0 / 30)
	}
	assert.InDelta(t, 60.0, w.Elapsed(), 1e-6)
	assert.InDelta(t, 0.0, w.Level(), 1e-9)

	for i := 0; i < 60*30; i++ {
		w.Tick(1.0 / 30)
	}
	assert.InDelta(t, 120.0, w.Elapsed(), 1e-6)
	assert.InDelta(t, 21.0, w.Level(), 1e-6)
	assert.InDelta(t, 0.65, w.Speed(), 1e-6)
}

func TestWaterTimerTickSizeIndependent(t *testing.T) {
	coarse := NewWaterTimer(0, 10, 0.05, 0.01)
	fine := NewWaterTimer(0, 10, 0.05, 0.01)
	coarse.Start()
	fine.Start()

	coarse.Tick(25)
	for i := 0; i < 250; i++ {
		fine.Tick(0.1)
	}
	assert.InDelta(t, coarse.Level(), fine.Level(), 1e-9)
}

func TestWaterTimerFrozenWhenStopped(t *testing.T) {
	w := NewWaterTimer(2, 0, 1, 0)
	w.Tick(5)
	assert.Equal(t, 2.0, w.Level())
	assert.Equal(t, 0.0, w.Elapsed())

	w.Start()
	w.Tick(1)
	w.Stop()
	w.Tick(10)
	assert.Equal(t, 3.0, w.Level())
	assert.Equal(t, 1.0, w.Elapsed())
}

func TestWaterTimerReset(t *testing.T) {
	w := NewWaterTimer(0, 0, 1, 0)
	w.Start()
	w.Tick(3)

	w.Reset(0.5)
	assert.False(t, w.Running())
	assert.Equal(t, 0.5, w.Level())
	assert.Equal(t, 0.0, w.Elapsed())
}

func TestWaterTimerRemainingDelay(t *testing.T) {
	w := NewWaterTimer(0, 60, 0.05, 0)
	w.Start()
	w.Tick(45)
	assert.InDelta(t, 15.0, w.RemainingDelay(), 1e-9)
	w.Tick(30)
	assert.Equal(t, 0.0, w.RemainingDelay())
}

func TestAlertFor(t *testing.T) {
	th := AlertThresholds{Caution: 0.7, Warning: 0.85, Critical: 0.95}
	tests := []struct {
		water, height float64
		want          AlertLevel
	}{
		{0, 1, AlertSafe},
		{0.69, 1, AlertSafe},
		{0.7, 1, AlertCaution},
		{0.9, 1, AlertWarning},
		{0.96, 1, AlertCritical},
		{1, 1, AlertFlooding},
		{0, 0, AlertFlooding},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AlertFor(tt.water, tt.height, th), "water %v height %v", tt.water, tt.height)
	}
}
