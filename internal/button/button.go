// Package button turns edges on the user button into short and long
// presses.
package button

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/hal"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// DefaultLongPress is the hold time that turns a press into a long press.
const DefaultLongPress = 3000 * time.Millisecond

// State of the press machine.
type State uint8

const (
	Idle State = iota
	Pressed
)

func (s State) String() string {
	if s == Pressed {
		return "pressed"
	}
	return "idle"
}

// Handlers are called on the work queue.
type Handlers struct {
	Short func()
	Long  func()
}

// Machine is the button state machine. Edges only fire a coalescing
// trigger; the level is read and evaluated on the work queue.
type Machine struct {
	in        hal.DigitalIn
	clock     workq.Clock
	threshold time.Duration
	handlers  Handlers

	edge *workq.Trigger
	long *workq.Delayed

	state     State
	pressedAt time.Time
	longFired bool
}

// New creates an idle machine. A zero threshold means DefaultLongPress.
func New(q *workq.Queue, in hal.DigitalIn, threshold time.Duration, h Handlers) *Machine {
	if threshold <= 0 {
		threshold = DefaultLongPress
	}
	m := &Machine{
		in:        in,
		clock:     q.Clock(),
		threshold: threshold,
		handlers:  h,
	}
	m.edge = q.NewTrigger(m.evaluate)
	m.long = q.NewDelayed(m.expire)
	return m
}

// Watch subscribes to edges on the input until ctx is done.
func (m *Machine) Watch(ctx context.Context) error {
	return m.in.Watch(ctx, m.Edge)
}

// Edge is the interrupt entry point. It only enqueues.
func (m *Machine) Edge() {
	m.edge.Fire()
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

func (m *Machine) evaluate() {
	pressed, err := m.in.Get()
	if err != nil {
		log.Warn().Err(err).Msg("Button read failed")
		return
	}

	switch {
	case pressed && m.state == Idle:
		m.state = Pressed
		m.pressedAt = m.clock.Now()
		m.longFired = false
		m.long.Schedule(m.threshold)
		log.Debug().Msg("Button pressed")

	case !pressed && m.state == Pressed:
		m.state = Idle
		m.long.Cancel()
		held := m.clock.Now().Sub(m.pressedAt)
		log.Debug().Dur("held", held).Msg("Button released")
		if !m.longFired && held < m.threshold {
			log.Info().Msg("Short press")
			if m.handlers.Short != nil {
				m.handlers.Short()
			}
		}
	}
}

func (m *Machine) expire() {
	if m.state != Pressed || m.longFired {
		return
	}
	m.longFired = true
	log.Info().Dur("threshold", m.threshold).Msg("Long press")
	if m.handlers.Long != nil {
		m.handlers.Long()
	}
}
