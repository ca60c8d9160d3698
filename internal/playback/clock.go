package playback

import (
	"sort"
	"sync"
	"time"
)

// Clock is the output timeline the scheduler plans against. Now is the time
// elapsed since the clock started; it never goes backwards.
type Clock interface {
	// Now returns the current position on the output timeline.
	Now() time.Duration

	// After returns a channel that fires once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// systemClock measures real time since its creation.
type systemClock struct {
	epoch time.Time
}

// NewSystemClock returns a Clock backed by the monotonic wall clock,
// starting at zero.
func NewSystemClock() Clock {
	return &systemClock{epoch: time.Now()}
}

func (c *systemClock) Now() time.Duration { return time.Since(c.epoch) }

func (c *systemClock) After(d time.Duration) <-chan time.Time {
	if d < 0 {
		d = 0
	}
	return time.After(d)
}

// ManualClock is a Clock driven explicitly via [ManualClock.Advance] and
// [ManualClock.Set]. It exists for deterministic timing in tests.
type ManualClock struct {
	mu      sync.Mutex
	now     time.Duration
	waiters []manualWaiter
}

type manualWaiter struct {
	at time.Duration
	ch chan time.Time
}

// NewManualClock returns a ManualClock positioned at start.
func NewManualClock(start time.Duration) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- time.Time{}
		return ch
	}
	c.waiters = append(c.waiters, manualWaiter{at: c.now + d, ch: ch})
	return ch
}

// Advance moves the clock forward by d and fires every waiter whose deadline
// has been reached.
func (c *ManualClock) Advance(d time.Duration) {
	c.Set(c.Now() + d)
}

// Set moves the clock to t (which must not be in the past) and fires every
// waiter whose deadline has been reached.
func (c *ManualClock) Set(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t < c.now {
		return
	}
	c.now = t

	sort.Slice(c.waiters, func(i, j int) bool { return c.waiters[i].at < c.waiters[j].at })
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if w.at <= c.now {
			w.ch <- time.Time{}
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
