package light

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/hal"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// DefaultPolarityHz is how often the H-bridge completes a full A/B cycle.
const DefaultPolarityHz = 100

// HalfPeriod returns the alternation interval for a polarity frequency.
func HalfPeriod(freqHz int) time.Duration {
	if freqHz <= 0 {
		freqHz = DefaultPolarityHz
	}
	return time.Second / time.Duration(2*freqHz)
}

// Polarity drives the H-bridge. While active it flips which half of the
// bridge is high every half period so both LED halves appear lit.
type Polarity struct {
	ain1    hal.DigitalOut
	ain2    hal.DigitalOut
	standby hal.DigitalOut
	clock   *workq.Periodic

	// mu orders pin writes between the queue and the alternation clock.
	mu    sync.Mutex
	on    atomic.Bool
	phase atomic.Bool // false = phase A (AIN1 high), true = phase B
}

// NewPolarity creates a driver in standby.
func NewPolarity(ain1, ain2, standby hal.DigitalOut, clock workq.Clock, freqHz int) *Polarity {
	p := &Polarity{ain1: ain1, ain2: ain2, standby: standby}
	p.clock = workq.NewPeriodic(clock, HalfPeriod(freqHz), p.tick)
	return p
}

// On leaves standby, asserts phase A and starts alternation.
func (p *Polarity) On() {
	p.mu.Lock()
	set(p.standby, true, "standby")
	p.phase.Store(false)
	set(p.ain1, true, "ain1")
	set(p.ain2, false, "ain2")
	p.on.Store(true)
	p.mu.Unlock()

	p.clock.Start()
	log.Debug().Msg("H-bridge on")
}

// Off stops alternation, drives both phase lines low and enters standby.
func (p *Polarity) Off() {
	p.on.Store(false)
	p.clock.Stop()

	p.mu.Lock()
	set(p.ain1, false, "ain1")
	set(p.ain2, false, "ain2")
	set(p.standby, false, "standby")
	p.mu.Unlock()
	log.Debug().Msg("H-bridge standby")
}

// IsOn reports whether the driver is active.
func (p *Polarity) IsOn() bool {
	return p.on.Load()
}

// Phase reports the current half (false = A, true = B).
func (p *Polarity) Phase() bool {
	return p.phase.Load()
}

// tick runs from the alternation clock, outside the work queue. A tick
// racing Off is a no-op.
func (p *Polarity) tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.on.Load() {
		return
	}

	phase := !p.phase.Load()
	p.phase.Store(phase)
	if phase {
		set(p.ain1, false, "ain1")
		set(p.ain2, true, "ain2")
	} else {
		set(p.ain1, true, "ain1")
		set(p.ain2, false, "ain2")
	}
}

func set(out hal.DigitalOut, high bool, name string) {
	if err := out.Set(high); err != nil {
		log.Warn().Err(err).Str("line", name).Msg("H-bridge write failed")
	}
}
