// Package attr holds the mirrored attribute set of the light endpoint.
// It is owned by the work queue; every change is forwarded to an Observer.
package attr

import (
	"github.com/dokzlo13/copperlight/internal/startup"
)

// ID names an attribute.
type ID string

const (
	OnOff             ID = "on_off"
	CurrentLevel      ID = "current_level"
	OnOffTransition   ID = "on_off_transition_time"
	StartUpOnOff      ID = "start_up_on_off"
	StartUpLevel      ID = "start_up_current_level"
	BatteryVoltage    ID = "battery_voltage"
	BatteryPercentage ID = "battery_percentage_remaining"
	BatteryRated      ID = "battery_rated_voltage"
	BatteryMinVoltage ID = "battery_voltage_min_threshold"
	BatterySize       ID = "battery_size"
	BatteryQuantity   ID = "battery_quantity"
)

// Defaults for a freshly booted device.
const (
	DefaultLevel          uint8  = 254
	DefaultTransition     uint16 = 10 // 1/10 s
	DefaultLastBrightness uint8  = 254
	DefaultRatedVoltage   uint8  = 37 // 100 mV units
	DefaultMinVoltage     uint8  = 30
	DefaultBatterySize    uint8  = 0xff // other
	DefaultBatteryCount   uint8  = 1

	// FallbackTransitionMs applies when the transition attribute is 0.
	FallbackTransitionMs uint16 = 1000
)

// Change is one attribute update.
type Change struct {
	ID    ID
	Value uint16
}

// Observer receives attribute changes.
type Observer interface {
	AttributeChanged(Change)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Change)

func (f ObserverFunc) AttributeChanged(c Change) { f(c) }

// Snapshot is a copy of every attribute.
type Snapshot struct {
	OnOff             bool   `json:"on_off"`
	CurrentLevel      uint8  `json:"current_level"`
	OnOffTransition   uint16 `json:"on_off_transition_time"`
	StartUpOnOff      uint8  `json:"start_up_on_off"`
	StartUpLevel      uint8  `json:"start_up_current_level"`
	BatteryVoltage    uint8  `json:"battery_voltage"`
	BatteryPercentage uint8  `json:"battery_percentage_remaining"`
	BatteryRated      uint8  `json:"battery_rated_voltage"`
	BatteryMinVoltage uint8  `json:"battery_voltage_min_threshold"`
	BatterySize       uint8  `json:"battery_size"`
	BatteryQuantity   uint8  `json:"battery_quantity"`
	LastBrightness    uint8  `json:"last_brightness"`
}

// Store is the attribute set. Not safe for concurrent use.
type Store struct {
	s        Snapshot
	observer Observer
}

// New returns a store with default values.
func New(observer Observer) *Store {
	onOff, level := startup.DefaultPolicy.Codes()
	return &Store{
		s: Snapshot{
			CurrentLevel:      DefaultLevel,
			OnOffTransition:   DefaultTransition,
			StartUpOnOff:      onOff,
			StartUpLevel:      level,
			BatteryRated:      DefaultRatedVoltage,
			BatteryMinVoltage: DefaultMinVoltage,
			BatterySize:       DefaultBatterySize,
			BatteryQuantity:   DefaultBatteryCount,
			LastBrightness:    DefaultLastBrightness,
		},
		observer: observer,
	}
}

// Snapshot returns a copy of the attributes.
func (a *Store) Snapshot() Snapshot {
	return a.s
}

func (a *Store) OnOff() bool           { return a.s.OnOff }
func (a *Store) Level() uint8          { return a.s.CurrentLevel }
func (a *Store) LastBrightness() uint8 { return a.s.LastBrightness }

// SteadyLevel is the brightness the attributes call for: the current
// level when on, 0 when off.
func (a *Store) SteadyLevel() uint8 {
	if a.s.OnOff {
		return a.s.CurrentLevel
	}
	return 0
}

// TransitionMs converts the on/off transition time to milliseconds; an
// unset (0) transition time means one second.
func (a *Store) TransitionMs() uint16 {
	ms := uint32(a.s.OnOffTransition) * 100
	if ms == 0 {
		return FallbackTransitionMs
	}
	if ms > 0xffff {
		return 0xffff
	}
	return uint16(ms)
}

// StartupPolicy decodes the start-up attributes.
func (a *Store) StartupPolicy() startup.Policy {
	return startup.FromCodes(a.s.StartUpOnOff, a.s.StartUpLevel)
}

func (a *Store) SetOnOff(on bool) {
	var v uint16
	if on {
		v = 1
	}
	a.s.OnOff = on
	a.notify(OnOff, v)
}

func (a *Store) SetLevel(level uint8) {
	a.s.CurrentLevel = level
	a.notify(CurrentLevel, uint16(level))
}

// SetLastBrightness remembers the last non-zero level. Zero is ignored.
func (a *Store) SetLastBrightness(level uint8) {
	if level == 0 {
		return
	}
	a.s.LastBrightness = level
}

func (a *Store) SetTransition(tenths uint16) {
	a.s.OnOffTransition = tenths
	a.notify(OnOffTransition, tenths)
}

// SetStartupPolicy stores p in its attribute encoding.
func (a *Store) SetStartupPolicy(p startup.Policy) {
	a.s.StartUpOnOff, a.s.StartUpLevel = p.Codes()
	a.notify(StartUpOnOff, uint16(a.s.StartUpOnOff))
	a.notify(StartUpLevel, uint16(a.s.StartUpLevel))
}

// SetBattery stores a reading: voltage in 100 mV units and percentage in
// 0.5 % units.
func (a *Store) SetBattery(voltage100mV, halfPercent uint8) {
	a.s.BatteryVoltage = voltage100mV
	a.s.BatteryPercentage = halfPercent
	a.notify(BatteryVoltage, uint16(voltage100mV))
	a.notify(BatteryPercentage, uint16(halfPercent))
}

func (a *Store) notify(id ID, v uint16) {
	if a.observer != nil {
		a.observer.AttributeChanged(Change{ID: id, Value: v})
	}
}
