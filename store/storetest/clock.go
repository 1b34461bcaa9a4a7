package storetest

import (
	"sync"
	"time"
)

// Clock is a manually advanced clock for deterministic TTL tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock frozen at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// Now returns the current fake time. Pass it as a store.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
