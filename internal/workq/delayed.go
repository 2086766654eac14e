package workq

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Delayed is cancellable deferred work. Scheduling always cancels the
// previous pending run first, and a run that already left its timer but is
// still waiting in the queue is discarded once cancelled.
type Delayed struct {
	q  *Queue
	fn Work

	mu      sync.Mutex
	gen     uint64
	timer   Timer
	pending bool
}

// NewDelayed creates deferred work bound to the queue.
func (q *Queue) NewDelayed(fn Work) *Delayed {
	return &Delayed{q: q, fn: fn}
}

// Schedule arms the work to run after delay. A delay <= 0 enqueues it
// immediately.
func (d *Delayed) Schedule(delay time.Duration) {
	d.mu.Lock()
	d.cancelLocked()
	d.gen++
	gen := d.gen
	d.pending = true

	if delay <= 0 {
		d.mu.Unlock()
		d.submit(gen)
		return
	}

	d.timer = d.q.clock.AfterFunc(delay, func() { d.submit(gen) })
	d.mu.Unlock()
}

// Cancel drops any pending run.
func (d *Delayed) Cancel() {
	d.mu.Lock()
	d.cancelLocked()
	d.mu.Unlock()
}

// Pending reports whether a run is armed or queued.
func (d *Delayed) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Delayed) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
	d.pending = false
}

// submit enqueues the run for gen. A full queue re-arms the same
// generation after RetryDelay so self-rescheduling chains survive
// bursts; only a closed queue or a cancel ends the chain.
func (d *Delayed) submit(gen uint64) {
	err := d.q.offer(func() { d.run(gen) })
	if err == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen != gen {
		return
	}
	if errors.Is(err, ErrClosed) {
		d.pending = false
		return
	}
	log.Warn().Msg("Work queue full, retrying deferred work")
	d.timer = d.q.clock.AfterFunc(RetryDelay, func() { d.submit(gen) })
}

func (d *Delayed) run(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn()
}

// Trigger coalesces bursts of submissions into a single queued run: firing
// while a run is already queued is a no-op. Safe to call from any goroutine.
type Trigger struct {
	q       *Queue
	fn      Work
	pending atomic.Bool
}

// NewTrigger creates a coalescing trigger bound to the queue.
func (q *Queue) NewTrigger(fn Work) *Trigger {
	return &Trigger{q: q, fn: fn}
}

// Fire enqueues the work unless a run is already queued. A full queue is
// retried after RetryDelay with the trigger still pending, so an edge is
// never lost. It returns false only when coalesced or the queue is closed.
func (t *Trigger) Fire() bool {
	if !t.pending.CompareAndSwap(false, true) {
		return false
	}
	return t.submit()
}

func (t *Trigger) submit() bool {
	err := t.q.offer(func() {
		t.pending.Store(false)
		t.fn()
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrClosed):
		t.pending.Store(false)
		return false
	default:
		log.Warn().Msg("Work queue full, retrying trigger")
		t.q.clock.AfterFunc(RetryDelay, func() { t.submit() })
		return true
	}
}

// Periodic calls fn every period directly from the timer context, outside
// the queue. It is meant for short interrupt-level jobs that guard
// themselves against racing a Stop.
type Periodic struct {
	clock  Clock
	period time.Duration
	fn     func()

	mu      sync.Mutex
	timer   Timer
	running bool
	gen     uint64
}

// NewPeriodic creates a stopped periodic timer.
func NewPeriodic(clock Clock, period time.Duration, fn func()) *Periodic {
	if clock == nil {
		clock = SystemClock()
	}
	return &Periodic{clock: clock, period: period, fn: fn}
}

// Start begins ticking. Starting a running timer does nothing.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.gen++
	p.armLocked(p.gen)
}

// Stop halts ticking. A tick already in flight may still run once.
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Running reports whether the timer is started.
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Periodic) armLocked(gen uint64) {
	p.timer = p.clock.AfterFunc(p.period, func() { p.fire(gen) })
}

func (p *Periodic) fire(gen uint64) {
	p.mu.Lock()
	if !p.running || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.armLocked(gen)
	p.mu.Unlock()

	p.fn()
}
