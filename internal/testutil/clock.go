package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FakeClock.
var Epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

// FakeClock is a settable wall clock for tests.
//
// A clock created with NewSteppingClock advances by its step on every call
// to Now, so consecutive timestamps are distinct and ordered.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewFakeClock creates a clock frozen at start. A zero start selects Epoch.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{now: start}
}

// NewSteppingClock creates a clock that advances by step before returning
// each reading.
func NewSteppingClock(start time.Time, step time.Duration) *FakeClock {
	c := NewFakeClock(start)
	c.step = step
	return c
}

// Now returns the current time. Matches the func() time.Time options taken
// by the registry, store and audit.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
