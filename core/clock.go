package core

import (
	"sync"
	"time"
)

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock supplies "now" to the engine. Every time-gated decision (no-show
// windows, completion-after-end, notice periods) compares against the clock
// at the moment of the request; nothing in the engine sleeps or sets timers.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a settable clock for tests.
type FixedClock struct {
	mu sync.Mutex
	at time.Time
}

func NewFixedClock(at time.Time) *FixedClock { return &FixedClock{at: at} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *FixedClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = at
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}
