// Package battery samples the battery rail, maps voltage to charge and
// reports it on a fixed cadence.
package battery

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/errcode"
	"github.com/dokzlo13/copperlight/internal/hal"
	"github.com/dokzlo13/copperlight/internal/mathx"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// CurvePoint is one calibration point of the discharge model.
type CurvePoint struct {
	Millivolts uint16
	Percent    uint8
}

// LiPo is a single-cell LiPo discharge curve, strictly decreasing in
// millivolts.
var LiPo = []CurvePoint{
	{4200, 100},
	{4150, 95},
	{4110, 90},
	{4080, 85},
	{4020, 80},
	{3980, 75},
	{3950, 70},
	{3910, 65},
	{3870, 60},
	{3840, 55},
	{3800, 50},
	{3760, 45},
	{3730, 40},
	{3690, 35},
	{3660, 30},
	{3620, 25},
	{3580, 20},
	{3500, 15},
	{3450, 10},
	{3300, 5},
	{3000, 0},
}

// MvToPercent maps mv onto the LiPo curve.
func MvToPercent(mv uint16) uint8 {
	return Interpolate(LiPo, mv)
}

// Interpolate clamps mv to the ends of curve and interpolates linearly
// inside the bracketing pair. curve must be strictly decreasing in
// millivolts and non-increasing in percent.
func Interpolate(curve []CurvePoint, mv uint16) uint8 {
	if len(curve) == 0 {
		return 0
	}
	if mv >= curve[0].Millivolts {
		return curve[0].Percent
	}
	last := curve[len(curve)-1]
	if mv <= last.Millivolts {
		return last.Percent
	}

	for i := 0; i < len(curve)-1; i++ {
		hi, lo := curve[i], curve[i+1]
		if mv < lo.Millivolts {
			continue
		}
		return mathx.LerpFrac(lo.Percent, hi.Percent,
			int64(mv-lo.Millivolts), int64(hi.Millivolts-lo.Millivolts))
	}
	return last.Percent
}

// Scale converts raw ADC counts to millivolts as counts*Num/Den.
type Scale struct {
	Num uint32
	Den uint32
}

// DefaultScale matches an internal VDD/5 input at gain 1/6 against a
// 0.6 V reference with 12-bit resolution.
var DefaultScale = Scale{Num: 18000, Den: 4096}

// DefaultInterval is the report cadence.
const DefaultInterval = time.Hour

// Reading is one measurement.
type Reading struct {
	Millivolts uint16
	Percent    uint8
}

// Voltage100mV is the reading in 100 mV units.
func (r Reading) Voltage100mV() uint8 {
	v := r.Millivolts / 100
	if v > 0xff {
		return 0xff
	}
	return uint8(v)
}

// HalfPercent is the reading in 0.5 % units.
func (r Reading) HalfPercent() uint8 {
	return r.Percent * 2
}

// Sink receives every successful reading.
type Sink interface {
	SetBattery(voltage100mV, halfPercent uint8)
}

// Reporter forwards readings while the device is on the network.
type Reporter interface {
	Joined() bool
	ReportBattery(Reading)
}

// Gauge runs the periodic report cycle on the work queue.
type Gauge struct {
	adc      hal.ADC
	scale    Scale
	interval time.Duration
	sink     Sink
	reporter Reporter
	work     *workq.Delayed
	started  bool
}

// Option configures a Gauge.
type Option func(*Gauge)

// WithScale overrides the ADC scale.
func WithScale(s Scale) Option {
	return func(g *Gauge) {
		if s.Num != 0 && s.Den != 0 {
			g.scale = s
		}
	}
}

// WithInterval overrides the report interval.
func WithInterval(d time.Duration) Option {
	return func(g *Gauge) {
		if d > 0 {
			g.interval = d
		}
	}
}

// New returns a gauge, or nil with a HardwareNotReady error when the ADC
// is missing. Callers treat that as "battery disabled".
func New(q *workq.Queue, adc hal.ADC, sink Sink, reporter Reporter, opts ...Option) (*Gauge, error) {
	if !hal.IsReady(adc) {
		return nil, errcode.New(errcode.HardwareNotReady, "battery.new", "adc", nil)
	}
	g := &Gauge{
		adc:      adc,
		scale:    DefaultScale,
		interval: DefaultInterval,
		sink:     sink,
		reporter: reporter,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.work = q.NewDelayed(g.ReportCycle)
	return g, nil
}

// Measure takes one sample and returns it in millivolts.
func (g *Gauge) Measure() (uint16, error) {
	sample, err := g.adc.Read()
	if err != nil {
		return 0, errcode.New(errcode.MeasurementFailure, "battery.measure", "adc read", err)
	}
	if sample <= 0 {
		return 0, errcode.New(errcode.MeasurementFailure, "battery.measure", "degenerate sample", nil)
	}
	mv := mathx.Clamp(uint64(sample)*uint64(g.scale.Num)/uint64(g.scale.Den), 0, 0xffff)
	log.Debug().Int32("sample", sample).Uint64("mv", mv).Msg("Battery sample")
	return uint16(mv), nil
}

// ReportCycle measures, updates the attributes, forwards the reading when
// joined, and schedules the next cycle. A failed measurement skips this
// cycle only.
func (g *Gauge) ReportCycle() {
	defer g.work.Schedule(g.interval)

	mv, err := g.Measure()
	if err != nil {
		log.Warn().Err(err).Msg("Battery measurement failed")
		return
	}

	r := Reading{Millivolts: mv, Percent: MvToPercent(mv)}
	g.sink.SetBattery(r.Voltage100mV(), r.HalfPercent())
	log.Info().Uint16("mv", r.Millivolts).Uint8("percent", r.Percent).Msg("Battery")

	if g.reporter != nil && g.reporter.Joined() {
		g.reporter.ReportBattery(r)
	}
}

// Start runs a cycle now and keeps the cadence going. Starting twice is
// a no-op.
func (g *Gauge) Start() {
	if g.started {
		return
	}
	g.started = true
	log.Info().Dur("interval", g.interval).Msg("Battery reporting started")
	g.work.Schedule(0)
}

// Stop cancels the cadence. A later Start begins a fresh one.
func (g *Gauge) Stop() {
	g.started = false
	g.work.Cancel()
}
