// Package clock abstracts wall-clock reads so session timestamps can be
// pinned in tests.
package clock

import "time"

//go:generate mockgen -package=mocks -destination=mocks/mock_clock.go flood-duel/internal/clock Clock
type Clock interface {
	Now() time.Time
}

// DefaultClock implements the Clock interface using the system clock
type DefaultClock struct{}

// Now returns the current time
func (c *DefaultClock) Now() time.Time {
	return time.Now()
}

// OrDefault returns c, or the system clock when c is nil.
func OrDefault(c Clock) Clock {
	if c == nil {
		return &DefaultClock{}
	}
	return c
}
