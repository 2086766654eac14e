package workq

import (
	"sort"
	"sync"
	"time"
)

// ManualClock is a virtual clock for deterministic tests and simulation.
// Timers fire only from Advance, in deadline order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*manualTimer
	settle func()
}

type manualTimer struct {
	c     *ManualClock
	at    time.Time
	seq   uint64
	f     func()
	armed bool
}

// NewManualClock creates a clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// NewManual returns a queue driven by a fresh manual clock. The queue is
// drained after every timer the clock fires, so Advance behaves like the
// queue goroutine running in virtual time.
func NewManual(size int) (*Queue, *ManualClock) {
	clock := NewManualClock(time.Unix(0, 0).UTC())
	q := New(clock, size)
	clock.OnFire(func() { q.Drain() })
	return q, clock
}

// OnFire registers a hook run after each fired timer.
func (c *ManualClock) OnFire(fn func()) {
	c.mu.Lock()
	c.settle = fn
	c.mu.Unlock()
}

// Now returns the virtual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc arms f to run once virtual time reaches now+d.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{c: c, at: c.now.Add(d), seq: c.seq, f: f, armed: true}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing due timers in order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		t := c.popDueLocked(target)
		if t == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		if t.at.After(c.now) {
			c.now = t.at
		}
		settle := c.settle
		c.mu.Unlock()

		t.f()
		if settle != nil {
			settle()
		}
	}
}

// Pending returns the number of armed timers.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) popDueLocked(target time.Time) *manualTimer {
	if len(c.timers) == 0 {
		return nil
	}
	sort.Slice(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	t := c.timers[0]
	if t.at.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	t.armed = false
	return t
}

func (t *manualTimer) Stop() bool {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !t.armed {
		return false
	}
	t.armed = false
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			break
		}
	}
	return true
}
