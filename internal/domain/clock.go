package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps run start/finish times and notification headers.
// Tests freeze it through SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the run time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time of the run clock in UTC.
func Now() time.Time {
	return clock.Now().UTC()
}
