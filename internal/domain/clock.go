package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source so tests can freeze "today" via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used to pick forecast days. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Today returns the current calendar date (midnight UTC of the clock's local wall date).
func Today() time.Time {
	return CalendarDate(clock.Now())
}

// Now returns the clock's current instant.
func Now() time.Time {
	return clock.Now()
}
