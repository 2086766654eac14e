// Package workq provides the single cooperative work queue that runs all
// lighting logic, plus cancellable deferred work built on top of it.
package workq

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when work is submitted to a closed queue.
var ErrClosed = errors.New("work queue closed")

var errFull = errors.New("work queue full")

// RetryDelay is how long timer and edge work waits before retrying a
// submit that found the queue full.
const RetryDelay = 10 * time.Millisecond

// DefaultSize is the queue capacity used when none is configured.
const DefaultSize = 64

// Work is a unit of work executed on the queue goroutine.
type Work func()

// Queue serializes work onto one goroutine. Producers (timers, GPIO edge
// watchers, the bridge adapter) only enqueue; they never run core logic.
type Queue struct {
	clock Clock
	work  chan Work

	// Closing this channel signals producers to stop.
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a queue with the given clock and capacity.
func New(clock Clock, size int) *Queue {
	if clock == nil {
		clock = SystemClock()
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{
		clock:   clock,
		work:    make(chan Work, size),
		closing: make(chan struct{}),
	}
}

// Clock returns the queue's time source.
func (q *Queue) Clock() Clock {
	return q.clock
}

// Submit enqueues work without blocking. It returns false if the queue is
// closing or full; the work is dropped in both cases.
func (q *Queue) Submit(w Work) bool {
	switch err := q.offer(w); {
	case err == nil:
		return true
	case errors.Is(err, ErrClosed):
		log.Warn().Msg("Work queue closing, dropping work")
	default:
		log.Warn().Msg("Work queue full, dropping work")
	}
	return false
}

// offer enqueues w without blocking, returning ErrClosed or errFull.
func (q *Queue) offer(w Work) error {
	select {
	case <-q.closing:
		return ErrClosed
	default:
	}

	select {
	case q.work <- w:
		return nil
	default:
		return errFull
	}
}

// DoSync enqueues fn, waits for it to run on the queue goroutine and returns
// its result.
func (q *Queue) DoSync(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	wrapped := Work(func() {
		done <- fn()
	})

	select {
	case <-q.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case q.work <- wrapped:
	}

	select {
	case <-q.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Run executes queued work until ctx is cancelled or the queue is closed.
// It is the only goroutine that touches lighting state.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.Drain()
			return
		case <-q.closing:
			q.Drain()
			return
		case w := <-q.work:
			q.execute(w)
		}
	}
}

// Drain runs queued work on the calling goroutine until the queue is empty,
// including work enqueued by the work itself. It returns the number of items
// executed.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case w := <-q.work:
			q.execute(w)
			n++
		default:
			return n
		}
	}
}

// Close stops accepting work. Run exits after draining what is queued.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closing)
	})
}

func (q *Queue) execute(w Work) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Queued work panicked - worker continuing")
		}
	}()
	w()
}
