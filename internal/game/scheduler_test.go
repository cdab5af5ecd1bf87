package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsInDueOrder(t *testing.T) {
	s := NewScheduler()
	var order []string
	s.After("b", 2, func() { order = append(order, "b") })
	s.After("a", 1, func() { order = append(order, "a") })
	s.After("c", 2, func() { order = append(order, "c") })

	s.Advance(0.5)
	assert.Empty(t, order)

	s.Advance(2)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, s.Len())
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler()
	ran := false
	tok := s.After("x", 1, func() { ran = true })

	assert.True(t, s.Pending(tok))
	assert.True(t, s.Cancel(tok))
	assert.False(t, s.Cancel(tok))

	s.Advance(5)
	assert.False(t, ran)
}

func TestSchedulerCallbackCancelsLaterTask(t *testing.T) {
	s := NewScheduler()
	var later TaskToken
	ran := false
	s.After("first", 1, func() { s.Cancel(later) })
	later = s.After("second", 1, func() { ran = true })

	s.Advance(1)
	assert.False(t, ran)
}

func TestSchedulerZeroDelayFromCallbackRunsSamePass(t *testing.T) {
	s := NewScheduler()
	count := 0
	s.After("outer", 1, func() {
		count++
		s.After("inner", 0, func() { count++ })
	})

	s.Advance(1)
	assert.Equal(t, 2, count)
}

func TestSchedulerAbsorbsTickDrift(t *testing.T) {
	s := NewScheduler()
	ran := false
	s.After("countdown", 3, func() { ran = true })

	for i := 0; i < 90; i++ {
		s.Advance(1.0 / 30)
	}
	assert.True(t, ran)
}

func TestSchedulerNamed(t *testing.T) {
	s := NewScheduler()
	s.After("grace:1", 30, func() {})
	s.After("grace:1", 40, func() {})
	tok := s.After("grace:2", 30, func() {})

	assert.True(t, s.PendingNamed("grace:1"))
	assert.Equal(t, 2, s.CancelNamed("grace:1"))
	assert.False(t, s.PendingNamed("grace:1"))

	s.Advance(10)
	left, ok := s.Remaining(tok)
	assert.True(t, ok)
	assert.InDelta(t, 20.0, left, 1e-9)
}
