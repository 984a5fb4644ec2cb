package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock times thinning passes and anchors fixture generation. Tests and the
// fixture tools swap in a fake via SetClock for reproducible output.
var clock = clockwork.NewRealClock()

// SetClock swaps the package time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current time from the package clock.
func Now() time.Time {
	return clock.Now()
}
