// Package light owns the LED output path: perceptual correction, the
// H-bridge polarity driver, timed fades and identify effects. Everything
// except the polarity tick runs on the device work queue.
package light

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/hal"
)

// Writer names the component allowed to change the displayed brightness.
type Writer uint8

const (
	// WriterSteady covers fades and direct attribute-driven writes.
	WriterSteady Writer = iota
	// WriterIdentify is held while an identify effect runs.
	WriterIdentify
)

func (w Writer) String() string {
	switch w {
	case WriterSteady:
		return "steady"
	case WriterIdentify:
		return "identify"
	default:
		return "unknown"
	}
}

// Output applies linear brightness levels to the PWM channel and keeps
// the polarity driver in step with them. Only the current owner's writes
// reach the hardware.
type Output struct {
	pwm      hal.PWM
	polarity *Polarity

	current uint8
	owner   Writer
}

// NewOutput creates an output at level 0 owned by WriterSteady.
func NewOutput(pwm hal.PWM, polarity *Polarity) *Output {
	return &Output{pwm: pwm, polarity: polarity}
}

// Set displays level on behalf of w. It reports false, and changes
// nothing, when w does not own the output.
func (o *Output) Set(w Writer, level uint8) bool {
	if w != o.owner {
		log.Debug().
			Stringer("writer", w).
			Stringer("owner", o.owner).
			Uint8("level", level).
			Msg("Brightness write dropped")
		return false
	}
	o.apply(level)
	return true
}

// Current returns the displayed level.
func (o *Output) Current() uint8 {
	return o.current
}

// Owner returns the writer that currently owns the output.
func (o *Output) Owner() Writer {
	return o.owner
}

// Polarity exposes the H-bridge driver.
func (o *Output) Polarity() *Polarity {
	return o.polarity
}

func (o *Output) claim(w Writer) {
	if o.owner != w {
		log.Debug().Stringer("owner", w).Msg("Brightness ownership changed")
	}
	o.owner = w
}

// apply writes the corrected pulse and switches the bridge. A failed PWM
// write is logged; the level is still recorded and the bridge still
// follows it so state never diverges from the last request.
func (o *Output) apply(level uint8) {
	pulse := PulseWidth(level, o.pwm.Period())
	if err := o.pwm.SetPulse(pulse); err != nil {
		log.Error().Err(err).Uint8("level", level).Uint32("pulse_ns", pulse).Msg("PWM write failed")
	}
	o.current = level

	switch {
	case level > 0 && !o.polarity.IsOn():
		o.polarity.On()
	case level == 0 && o.polarity.IsOn():
		o.polarity.Off()
	}
}
