// Package sim provides in-memory peripherals that record every write. It
// backs the "sim" hardware driver and the tests.
package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/hal"
)

// ErrInjected is returned by devices with an injected failure.
var ErrInjected = errors.New("sim: injected failure")

// PWM records pulse widths.
type PWM struct {
	mu     sync.Mutex
	period uint32
	pulse  uint32
	writes []uint32
	fail   bool
	absent bool
}

// NewPWM creates a ready PWM channel with the given period in nanoseconds.
func NewPWM(period uint32) *PWM {
	return &PWM{period: period}
}

func (p *PWM) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.absent
}

func (p *PWM) Period() uint32 { return p.period }

func (p *PWM) SetPulse(width uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return ErrInjected
	}
	p.pulse = width
	p.writes = append(p.writes, width)
	log.Debug().Uint32("pulse_ns", width).Msg("sim: pwm pulse")
	return nil
}

// Pulse returns the last written pulse width.
func (p *PWM) Pulse() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pulse
}

// Writes returns every pulse width written so far.
func (p *PWM) Writes() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.writes...)
}

// FailWrites makes subsequent SetPulse calls fail.
func (p *PWM) FailWrites(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

// SetAbsent makes the channel report not ready.
func (p *PWM) SetAbsent(absent bool) {
	p.mu.Lock()
	p.absent = absent
	p.mu.Unlock()
}

// Pin is a recorded digital output.
type Pin struct {
	mu     sync.Mutex
	name   string
	level  bool
	writes int
	absent bool
}

// NewPin creates a ready output, initially low.
func NewPin(name string) *Pin {
	return &Pin{name: name}
}

func (p *Pin) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.absent
}

func (p *Pin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = high
	p.writes++
	return nil
}

func (p *Pin) Toggle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = !p.level
	p.writes++
	return nil
}

// Level returns the current output level.
func (p *Pin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Writes returns the number of Set/Toggle calls.
func (p *Pin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// SetAbsent makes the pin report not ready.
func (p *Pin) SetAbsent(absent bool) {
	p.mu.Lock()
	p.absent = absent
	p.mu.Unlock()
}

// Button is an input whose level is driven by the test or simulator.
type Button struct {
	mu       sync.Mutex
	pressed  bool
	watchers []func()
	absent   bool
}

// NewButton creates a ready, released button.
func NewButton() *Button {
	return &Button{}
}

func (b *Button) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.absent
}

func (b *Button) Get() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pressed, nil
}

func (b *Button) Watch(ctx context.Context, fn func()) error {
	b.mu.Lock()
	b.watchers = append(b.watchers, fn)
	b.mu.Unlock()
	return nil
}

// Press drives the input active and raises an edge.
func (b *Button) Press() { b.set(true) }

// Release drives the input inactive and raises an edge.
func (b *Button) Release() { b.set(false) }

// Bounce raises n edges without changing the settled level.
func (b *Button) Bounce(n int) {
	for i := 0; i < n; i++ {
		b.notify()
	}
}

// SetAbsent makes the button report not ready.
func (b *Button) SetAbsent(absent bool) {
	b.mu.Lock()
	b.absent = absent
	b.mu.Unlock()
}

func (b *Button) set(pressed bool) {
	b.mu.Lock()
	changed := b.pressed != pressed
	b.pressed = pressed
	b.mu.Unlock()
	if changed {
		b.notify()
	}
}

func (b *Button) notify() {
	b.mu.Lock()
	watchers := append([]func(){}, b.watchers...)
	b.mu.Unlock()
	for _, fn := range watchers {
		fn()
	}
}

// ADC returns a programmable raw sample.
type ADC struct {
	mu     sync.Mutex
	sample int32
	err    error
	reads  int
	absent bool
}

// NewADC creates a ready channel returning sample.
func NewADC(sample int32) *ADC {
	return &ADC{sample: sample}
}

func (a *ADC) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.absent
}

func (a *ADC) Read() (int32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	if a.err != nil {
		return 0, a.err
	}
	return a.sample, nil
}

// SetSample sets the value returned by subsequent reads.
func (a *ADC) SetSample(sample int32) {
	a.mu.Lock()
	a.sample = sample
	a.mu.Unlock()
}

// SetError makes subsequent reads fail with err (nil clears it).
func (a *ADC) SetError(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

// Reads returns the number of Read calls.
func (a *ADC) Reads() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

// SetAbsent makes the channel report not ready.
func (a *ADC) SetAbsent(absent bool) {
	a.mu.Lock()
	a.absent = absent
	a.mu.Unlock()
}

// Board bundles one simulated device set.
type Board struct {
	PWM     *PWM
	AIN1    *Pin
	AIN2    *Pin
	Standby *Pin
	Button  *Button
	Status  *Pin
	Battery *ADC
}

// DefaultPWMPeriod is 1 kHz in nanoseconds.
const DefaultPWMPeriod = 1_000_000

// DefaultBatterySample is roughly 3.8 V with the default ADC scale.
const DefaultBatterySample = 865

// NewBoard creates a ready simulated board.
func NewBoard(pwmPeriod uint32) *Board {
	if pwmPeriod == 0 {
		pwmPeriod = DefaultPWMPeriod
	}
	return &Board{
		PWM:     NewPWM(pwmPeriod),
		AIN1:    NewPin("ain1"),
		AIN2:    NewPin("ain2"),
		Standby: NewPin("standby"),
		Button:  NewButton(),
		Status:  NewPin("status"),
		Battery: NewADC(DefaultBatterySample),
	}
}

// HAL exposes the board through the hal interfaces.
func (b *Board) HAL() *hal.Board {
	return &hal.Board{
		PWM:     b.PWM,
		AIN1:    b.AIN1,
		AIN2:    b.AIN2,
		Standby: b.Standby,
		Button:  b.Button,
		Status:  b.Status,
		Battery: b.Battery,
	}
}
