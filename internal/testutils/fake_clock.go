package testutils

import (
	"sync"
	"time"
)

// FakeTimer is a timer armed on a FakeClock
type FakeTimer struct {
	clock   *FakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

// Stop disarms the timer; reports whether it was still pending
func (t *FakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	pending := !t.stopped && !t.fired
	t.stopped = true
	return pending
}

// Duration returns the delay the timer was armed with
func (t *FakeTimer) Duration() time.Duration {
	return t.d
}

// FakeClock hands out timers that fire only when the test says so
type FakeClock struct {
	mu     sync.Mutex
	timers []*FakeTimer
}

func NewFakeClock() *FakeClock {
	return &FakeClock{}
}

// AfterFunc arms a timer, matching time.AfterFunc
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &FakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Pending returns the timers that are neither stopped nor fired
func (c *FakeClock) Pending() []*FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*FakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// Armed returns every timer ever armed, in order
func (c *FakeClock) Armed() []*FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeTimer(nil), c.timers...)
}

// Fire runs t's callback even if it was stopped, as a timer racing its Stop would.
// Returns false if t already fired.
func (c *FakeClock) Fire(t *FakeTimer) bool {
	c.mu.Lock()
	if t.fired {
		c.mu.Unlock()
		return false
	}
	t.fired = true
	c.mu.Unlock()

	t.f()
	return true
}

// FireAll fires every pending timer and returns how many fired
func (c *FakeClock) FireAll() int {
	n := 0
	for _, t := range c.Pending() {
		if c.Fire(t) {
			n++
		}
	}
	return n
}
