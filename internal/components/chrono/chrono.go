package chrono

import (
	"sync"
	"time"
)

// API is the clock every time-dependent component reads from.
//
// note: fault injection point
type API interface {
	Now() time.Time
}

// StandardImpl reads the system clock.
type StandardImpl struct{}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

// OrDefault returns clock, or a StandardImpl when clock is nil.
func OrDefault(clock API) API {
	if clock == nil {
		return StandardImpl{}
	}
	return clock
}

// ManualClock only moves when told to, it is safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
