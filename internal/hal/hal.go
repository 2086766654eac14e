// Package hal describes the hardware the lighting core drives: one PWM
// brightness channel, an H-bridge (two phase lines plus standby), one
// button, one status indicator and one battery ADC channel.
package hal

import (
	"context"

	"github.com/dokzlo13/copperlight/internal/errcode"
)

// Device is implemented by every peripheral.
type Device interface {
	// Ready reports whether the peripheral passed its readiness check.
	Ready() bool
}

// PWM is a brightness channel with a fixed period.
type PWM interface {
	Device
	// Period returns the nominal period in nanoseconds.
	Period() uint32
	// SetPulse sets the high time in nanoseconds, 0..Period().
	SetPulse(width uint32) error
}

// DigitalOut is a push-pull output line.
type DigitalOut interface {
	Device
	Set(high bool) error
	Toggle() error
}

// DigitalIn is an input line with edge notification.
type DigitalIn interface {
	Device
	// Get returns the logical level (true = active/pressed).
	Get() (bool, error)
	// Watch calls fn from the edge context on every edge until ctx is done.
	// fn must only enqueue work.
	Watch(ctx context.Context, fn func()) error
}

// ADC is a single-ended converter channel returning raw counts.
type ADC interface {
	Device
	Read() (int32, error)
}

// Board is the complete set of peripherals for one device.
type Board struct {
	PWM     PWM
	AIN1    DigitalOut
	AIN2    DigitalOut
	Standby DigitalOut
	Button  DigitalIn
	Status  DigitalOut // optional
	Battery ADC        // optional
}

// CheckMandatory returns a HardwareNotReady error for the first mandatory
// peripheral (PWM, H-bridge lines, button) that is missing or not ready.
func (b *Board) CheckMandatory() error {
	checks := []struct {
		name string
		dev  Device
	}{
		{"pwm", b.PWM},
		{"ain1", b.AIN1},
		{"ain2", b.AIN2},
		{"standby", b.Standby},
		{"button", b.Button},
	}
	for _, c := range checks {
		if !IsReady(c.dev) {
			return errcode.New(errcode.HardwareNotReady, "hal.check", c.name, nil)
		}
	}
	return nil
}

// IsReady reports whether dev is present and ready.
func IsReady(dev Device) bool {
	return dev != nil && dev.Ready()
}
