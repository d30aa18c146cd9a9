package schedule

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	lock   sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *FakeClock
	at      time.Time
	f       func()
	stopped bool
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

// AfterFunc registers f to run when the clock is advanced past now+d. A
// non-positive d runs f right away on its own goroutine.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.lock.Lock()
	defer c.lock.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	if d <= 0 {
		t.stopped = true
		go f()
		return t
	}
	c.timers = append(c.timers, t)

	return t
}

// Advance moves the clock forward and runs every timer that became due, in
// deadline order, on the calling goroutine.
func (c *FakeClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	var due, pending []*fakeTimer
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	for _, t := range due {
		t.stopped = true
	}
	c.lock.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the deadlines of the timers that have not fired or been stopped.
func (c *FakeClock) Pending() []time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	res := make([]time.Time, 0, len(c.timers))
	for _, t := range c.timers {
		res = append(res, t.at)
	}

	return res
}

func (t *fakeTimer) Stop() bool {
	c := t.clock
	c.lock.Lock()
	defer c.lock.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}

	return true
}
