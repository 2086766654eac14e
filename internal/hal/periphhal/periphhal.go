// Package periphhal implements the hal interfaces on Linux GPIO, PWM and
// I²C devices through periph.io.
package periphhal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/dokzlo13/copperlight/internal/errcode"
	"github.com/dokzlo13/copperlight/internal/hal"
)

// Config names the pins and buses of the board.
type Config struct {
	PWMPin          string
	PWMFrequencyHz  int
	AIN1Pin         string
	AIN2Pin         string
	StandbyPin      string
	ButtonPin       string
	ButtonActiveLow bool
	StatusPin       string

	// Battery ADC (ADS1115 over I²C). Empty bus disables the gauge.
	ADCBus     string
	ADCChannel int
}

// Board is an opened periph.io board.
type Board struct {
	hal *hal.Board
	bus i2c.BusCloser
}

// Open initializes the periph.io host drivers and resolves every pin.
// Missing mandatory pins surface later through hal.Board.CheckMandatory;
// a failing battery ADC only disables the gauge.
func Open(cfg Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.New(errcode.HardwareNotReady, "periphhal.open", "host init", err)
	}

	freq := cfg.PWMFrequencyHz
	if freq <= 0 {
		freq = 1000
	}

	b := &Board{hal: &hal.Board{}}
	if p := gpioreg.ByName(cfg.PWMPin); p != nil {
		b.hal.PWM = &pwmPin{pin: p, freq: physic.Frequency(freq) * physic.Hertz, period: uint32(1_000_000_000 / freq)}
	}
	if p := openOut(cfg.AIN1Pin); p != nil {
		b.hal.AIN1 = p
	}
	if p := openOut(cfg.AIN2Pin); p != nil {
		b.hal.AIN2 = p
	}
	if p := openOut(cfg.StandbyPin); p != nil {
		b.hal.Standby = p
	}
	if p := openOut(cfg.StatusPin); p != nil {
		b.hal.Status = p
	}
	if p := gpioreg.ByName(cfg.ButtonPin); p != nil {
		in := &inPin{pin: p, activeLow: cfg.ButtonActiveLow}
		if err := in.configure(); err != nil {
			log.Error().Err(err).Str("pin", cfg.ButtonPin).Msg("Button config failed")
		} else {
			b.hal.Button = in
		}
	}

	if cfg.ADCBus != "" {
		adc, bus, err := openADC(cfg.ADCBus, cfg.ADCChannel)
		if err != nil {
			log.Warn().Err(err).Str("bus", cfg.ADCBus).Msg("Battery ADC unavailable")
		} else {
			b.hal.Battery = adc
			b.bus = bus
		}
	}

	return b, nil
}

// HAL returns the board through the hal interfaces.
func (b *Board) HAL() *hal.Board {
	return b.hal
}

// Close releases the I²C bus.
func (b *Board) Close() error {
	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}

func openOut(name string) *outPin {
	if name == "" {
		return nil
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil
	}
	if err := p.Out(gpio.Low); err != nil {
		log.Error().Err(err).Str("pin", name).Msg("Output config failed")
		return nil
	}
	return &outPin{pin: p}
}

type pwmPin struct {
	pin    gpio.PinIO
	freq   physic.Frequency
	period uint32
}

func (p *pwmPin) Ready() bool    { return p != nil && p.pin != nil }
func (p *pwmPin) Period() uint32 { return p.period }

func (p *pwmPin) SetPulse(width uint32) error {
	if width > p.period {
		width = p.period
	}
	duty := gpio.Duty(uint64(width) * uint64(gpio.DutyMax) / uint64(p.period))
	if err := p.pin.PWM(duty, p.freq); err != nil {
		return fmt.Errorf("pwm %s: %w", p.pin.Name(), err)
	}
	return nil
}

type outPin struct {
	mu    sync.Mutex
	pin   gpio.PinIO
	level gpio.Level
}

func (o *outPin) Ready() bool { return o != nil && o.pin != nil }

func (o *outPin) Set(high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeLocked(gpio.Level(high))
}

func (o *outPin) Toggle() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writeLocked(!o.level)
}

func (o *outPin) writeLocked(l gpio.Level) error {
	if err := o.pin.Out(l); err != nil {
		return fmt.Errorf("gpio %s: %w", o.pin.Name(), err)
	}
	o.level = l
	return nil
}

type inPin struct {
	pin       gpio.PinIO
	activeLow bool
}

func (i *inPin) configure() error {
	pull := gpio.PullDown
	if i.activeLow {
		pull = gpio.PullUp
	}
	return i.pin.In(pull, gpio.BothEdges)
}

func (i *inPin) Ready() bool { return i != nil && i.pin != nil }

func (i *inPin) Get() (bool, error) {
	level := i.pin.Read()
	if i.activeLow {
		return level == gpio.Low, nil
	}
	return level == gpio.High, nil
}

// Watch blocks a goroutine in WaitForEdge and forwards every edge to fn.
func (i *inPin) Watch(ctx context.Context, fn func()) error {
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			if i.pin.WaitForEdge(time.Second) {
				fn()
			}
		}
	}()
	return nil
}

type adcPin struct {
	pin analog.PinADC
}

func openADC(busName string, channel int) (*adcPin, i2c.BusCloser, error) {
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c %q: %w", busName, err)
	}
	dev, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("ads1115: %w", err)
	}
	channels := []ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}
	if channel < 0 || channel >= len(channels) {
		bus.Close()
		return nil, nil, fmt.Errorf("ads1115: invalid channel %d", channel)
	}
	pin, err := dev.PinForChannel(channels[channel], 5*physic.Volt, 1*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("ads1115 channel %d: %w", channel, err)
	}
	return &adcPin{pin: pin}, bus, nil
}

func (a *adcPin) Ready() bool { return a != nil && a.pin != nil }

func (a *adcPin) Read() (int32, error) {
	s, err := a.pin.Read()
	if err != nil {
		return 0, err
	}
	return s.Raw, nil
}
