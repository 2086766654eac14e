// Package device wires the lighting core to its attributes, persistence
// and outbound reports. Every exported method except New must run on the
// work queue.
package device

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/attr"
	"github.com/dokzlo13/copperlight/internal/battery"
	"github.com/dokzlo13/copperlight/internal/button"
	"github.com/dokzlo13/copperlight/internal/errcode"
	"github.com/dokzlo13/copperlight/internal/eventbus"
	"github.com/dokzlo13/copperlight/internal/hal"
	"github.com/dokzlo13/copperlight/internal/light"
	"github.com/dokzlo13/copperlight/internal/settings"
	"github.com/dokzlo13/copperlight/internal/startup"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// Publisher receives outbound reports.
type Publisher interface {
	Publish(eventbus.Event)
}

// Config tunes the controller.
type Config struct {
	PolarityHz       int
	TransitionTenths uint16
	Startup          startup.Policy
	LongPress        time.Duration
	StatusBlink      time.Duration
	ResetBlinks      int
	ResetBlinkEvery  time.Duration
	BatteryEnabled   bool
	BatteryInterval  time.Duration
	BatteryScale     battery.Scale
}

// DefaultConfig returns the stock device behavior.
func DefaultConfig() Config {
	return Config{
		PolarityHz:       light.DefaultPolarityHz,
		TransitionTenths: attr.DefaultTransition,
		Startup:          startup.DefaultPolicy,
		LongPress:        button.DefaultLongPress,
		StatusBlink:      500 * time.Millisecond,
		ResetBlinks:      6,
		ResetBlinkEvery:  100 * time.Millisecond,
		BatteryEnabled:   true,
		BatteryInterval:  battery.DefaultInterval,
		BatteryScale:     battery.DefaultScale,
	}
}

// Controller owns the attribute set and the engines that act on it.
type Controller struct {
	cfg      Config
	settings settings.Store
	pub      Publisher

	attrs      *attr.Store
	output     *light.Output
	transition *light.Transition
	identify   *light.Identify
	button     *button.Machine
	gauge      *battery.Gauge
	status     *Status

	joined bool
}

// New builds the controller. It fails with HardwareNotReady when a
// mandatory peripheral is missing; a missing battery ADC or status
// indicator only disables that feature.
func New(q *workq.Queue, board *hal.Board, store settings.Store, pub Publisher, cfg Config) (*Controller, error) {
	if err := board.CheckMandatory(); err != nil {
		return nil, err
	}

	c := &Controller{cfg: cfg, settings: store, pub: pub}
	c.attrs = attr.New(attr.ObserverFunc(c.attributeChanged))
	c.attrs.SetTransition(cfg.TransitionTenths)
	c.attrs.SetStartupPolicy(cfg.Startup)

	polarity := light.NewPolarity(board.AIN1, board.AIN2, board.Standby, q.Clock(), cfg.PolarityHz)
	c.output = light.NewOutput(board.PWM, polarity)
	c.transition = light.NewTransition(q, c.output)
	c.identify = light.NewIdentify(q, c.output, c.transition, c.attrs)
	c.button = button.New(q, board.Button, cfg.LongPress, button.Handlers{
		Short: c.shortPress,
		Long:  c.longPress,
	})
	c.status = newStatus(q, board.Status, cfg.StatusBlink, cfg.ResetBlinkEvery)

	if cfg.BatteryEnabled {
		gauge, err := battery.New(q, board.Battery, c.attrs, c,
			battery.WithInterval(cfg.BatteryInterval),
			battery.WithScale(cfg.BatteryScale),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Battery gauge disabled")
		}
		c.gauge = gauge
	}

	return c, nil
}

// Watch subscribes to button edges until ctx is done.
func (c *Controller) Watch(ctx context.Context) error {
	return c.button.Watch(ctx)
}

// Boot restores the persisted light state, applies the start-up policy and
// shows the result without fading. A persistence failure leaves the
// defaults in place.
func (c *Controller) Boot() {
	def := settings.LightState{OnOff: c.attrs.OnOff(), Level: c.attrs.Level()}
	persisted, err := settings.LoadLightState(c.settings, def)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load light state, using defaults")
	}

	policy := c.attrs.StartupPolicy()
	st := startup.Resolve(startup.State{OnOff: persisted.OnOff, Level: persisted.Level}, policy)

	c.attrs.SetLevel(st.Level)
	c.attrs.SetOnOff(st.OnOff)
	c.output.Set(light.WriterSteady, st.Brightness())
	if st.OnOff {
		c.attrs.SetLastBrightness(st.Level)
	}
	c.status.SetJoined(c.joined)

	log.Info().
		Bool("on", st.OnOff).
		Uint8("level", st.Level).
		Stringer("policy", policy).
		Msg("Startup state applied")
}

// SetLevel handles a level write from the bridge. Values above 255 are
// rejected without touching state. The output follows only while on.
func (c *Controller) SetLevel(level uint16) error {
	if level > 0xff {
		return errcode.New(errcode.InvalidAttribute, "device.set_level", "level out of range", nil)
	}
	lv := uint8(level)
	log.Info().Uint8("level", lv).Msg("Set level")

	c.attrs.SetLevel(lv)
	if c.attrs.OnOff() {
		c.transition.Cancel()
		c.output.Set(light.WriterSteady, lv)
	}
	c.attrs.SetLastBrightness(lv)
	c.persist()
	return nil
}

// SetOnOff handles an on/off write from the bridge. It applies instantly.
func (c *Controller) SetOnOff(on bool) {
	log.Info().Bool("on", on).Msg("Set on/off")

	c.attrs.SetOnOff(on)
	c.transition.Cancel()
	c.output.Set(light.WriterSteady, c.attrs.SteadyLevel())
	c.persist()
}

// Toggle flips power with a fade of the configured on/off transition time.
// Turning on uses the current level, falling back to the last non-zero
// brightness and then to full.
func (c *Controller) Toggle() {
	on := !c.attrs.OnOff()

	var target uint8
	if on {
		target = c.attrs.Level()
		if target == 0 {
			target = c.attrs.LastBrightness()
		}
		if target == 0 {
			target = 0xff
		}
	}

	c.attrs.SetOnOff(on)
	if on && target != c.attrs.Level() {
		c.attrs.SetLevel(target)
	}

	fade := c.attrs.TransitionMs()
	c.transition.FadeTo(target, fade)
	c.attrs.SetLastBrightness(target)
	c.persist()

	log.Info().
		Bool("on", on).
		Uint8("level", target).
		Dur("fade", time.Duration(fade)*time.Millisecond).
		Msg("Toggle")
}

// StartIdentify runs an identify effect by its wire id.
func (c *Controller) StartIdentify(effectID uint8) {
	c.identify.Trigger(effectID)
	c.publish(eventbus.EventTypeIdentify, map[string]any{
		"effect_id": effectID,
		"effect":    light.EffectKindFor(effectID).String(),
	})
}

// SetJoined records the network state. Joining starts battery reporting.
func (c *Controller) SetJoined(joined bool) {
	changed := c.joined != joined
	c.joined = joined
	c.status.SetJoined(joined)

	if joined && c.gauge != nil {
		c.gauge.Start()
	}
	if changed {
		log.Info().Bool("joined", joined).Msg("Network state changed")
		c.publish(eventbus.EventTypeNetwork, map[string]any{"joined": joined})
	}
}

// Joined reports the network state.
func (c *Controller) Joined() bool {
	return c.joined
}

// FactoryReset leaves the network when joined, stops battery reporting
// until the next join and acknowledges on the status indicator.
func (c *Controller) FactoryReset() {
	log.Info().Msg("Factory reset")
	if c.joined {
		c.publish(eventbus.EventTypeNetwork, map[string]any{"leave": true})
		c.SetJoined(false)
	}
	if c.gauge != nil {
		c.gauge.Stop()
	}
	c.status.Acknowledge(c.cfg.ResetBlinks)
	c.publish(eventbus.EventTypeFactoryReset, nil)
}

// Shutdown cancels pending work and turns the output and the H-bridge
// off. Call it once the work queue has stopped.
func (c *Controller) Shutdown() {
	c.transition.Cancel()
	c.identify.Trigger(light.EffectIDStop)
	c.output.Set(light.WriterSteady, 0)
	c.status.Stop()
	if c.gauge != nil {
		c.gauge.Stop()
	}
	log.Info().Msg("Output off")
}

// ReportBattery forwards a reading to the bridge.
func (c *Controller) ReportBattery(r battery.Reading) {
	c.publish(eventbus.EventTypeBattery, map[string]any{
		"millivolts":                   r.Millivolts,
		"percent":                      r.Percent,
		"battery_voltage":              r.Voltage100mV(),
		"battery_percentage_remaining": r.HalfPercent(),
	})
}

// WriteAttribute applies a generic attribute write. Read-only and unknown
// attributes are NotImplemented; malformed values are InvalidAttribute.
func (c *Controller) WriteAttribute(id attr.ID, value uint16) error {
	invalid := func(msg string) error {
		return errcode.New(errcode.InvalidAttribute, "device.write_attribute", string(id)+": "+msg, nil)
	}

	switch id {
	case attr.OnOff:
		if value > 1 {
			return invalid("expected 0 or 1")
		}
		c.SetOnOff(value == 1)
	case attr.CurrentLevel:
		return c.SetLevel(value)
	case attr.OnOffTransition:
		c.attrs.SetTransition(value)
	case attr.StartUpOnOff:
		if value > 0xff {
			return invalid("out of range")
		}
		switch uint8(value) {
		case startup.CodeOnOffOff, startup.CodeOnOffOn, startup.CodeOnOffToggle, startup.CodeOnOffPrevious:
		default:
			return invalid("unknown start-up code")
		}
		_, level := c.attrs.StartupPolicy().Codes()
		c.attrs.SetStartupPolicy(startup.FromCodes(uint8(value), level))
	case attr.StartUpLevel:
		if value > 0xff {
			return invalid("out of range")
		}
		onOff, _ := c.attrs.StartupPolicy().Codes()
		c.attrs.SetStartupPolicy(startup.FromCodes(onOff, uint8(value)))
	default:
		return errcode.New(errcode.NotImplemented, "device.write_attribute", string(id), nil)
	}
	return nil
}

// BatteryEnabled reports whether the gauge is running on this hardware.
func (c *Controller) BatteryEnabled() bool {
	return c.gauge != nil
}

// State is a snapshot of the device for the bridge adapter.
type State struct {
	Attributes     attr.Snapshot `json:"attributes"`
	Brightness     uint8         `json:"brightness"`
	BridgeActive   bool          `json:"bridge_active"`
	PolarityPhaseB bool          `json:"polarity_phase_b"`
	Writer         string        `json:"writer"`
	Fading         bool          `json:"fading"`
	FadeTarget     uint8         `json:"fade_target,omitempty"`
	Effect         string        `json:"effect"`
	EffectStep     uint8         `json:"effect_step"`
	Button         string        `json:"button"`
	Joined         bool          `json:"joined"`
	BatteryEnabled bool          `json:"battery_enabled"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	tr := c.transition.State()
	eff := c.identify.State()
	st := State{
		Attributes:     c.attrs.Snapshot(),
		Brightness:     c.output.Current(),
		BridgeActive:   c.output.Polarity().IsOn(),
		PolarityPhaseB: c.output.Polarity().Phase(),
		Writer:         c.output.Owner().String(),
		Fading:         tr.Active,
		Effect:         eff.Kind.String(),
		EffectStep:     eff.Step,
		Button:         c.button.State().String(),
		Joined:         c.joined,
		BatteryEnabled: c.gauge != nil,
	}
	if tr.Active {
		st.FadeTarget = tr.Target
	}
	return st
}

func (c *Controller) shortPress() {
	c.publish(eventbus.EventTypeButton, map[string]any{"press": "short"})
	c.Toggle()
}

func (c *Controller) longPress() {
	c.publish(eventbus.EventTypeButton, map[string]any{"press": "long"})
	c.FactoryReset()
}

func (c *Controller) persist() {
	st := settings.LightState{OnOff: c.attrs.OnOff(), Level: c.attrs.Level()}
	if err := settings.SaveLightState(c.settings, st); err != nil {
		log.Warn().Err(err).Msg("Failed to persist light state")
	}
}

func (c *Controller) attributeChanged(ch attr.Change) {
	c.publish(eventbus.EventTypeAttribute, map[string]any{
		"attribute": string(ch.ID),
		"value":     ch.Value,
	})
}

func (c *Controller) publish(t eventbus.EventType, data map[string]any) {
	if c.pub == nil {
		return
	}
	c.pub.Publish(eventbus.Event{Type: t, Data: data})
}
