package worker

import (
	"sync"
	"time"
)

// Clock abstracts time for the runner so tests can drive simulated time.
type Clock interface {
	Now() time.Time
}

// Steppable is implemented by clocks whose time can be moved forward
// directly. RunToCompletion steps such clocks to next_wake instead of
// sleeping.
type Steppable interface {
	AdvanceTo(t time.Time)
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock starting at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t.UTC()}
}

var (
	_ Clock     = SystemClock{}
	_ Clock     = (*ManualClock)(nil)
	_ Steppable = (*ManualClock)(nil)
)

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

// AdvanceTo moves the clock to t if t is later than the current time.
func (c *ManualClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t.UTC()
	}
}
