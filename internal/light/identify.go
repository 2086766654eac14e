package light

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/workq"
)

// Effect identifiers as carried by the trigger-effect command.
const (
	EffectIDBlink         uint8 = 0x00
	EffectIDBreathe       uint8 = 0x01
	EffectIDOkay          uint8 = 0x02
	EffectIDChannelChange uint8 = 0x0b
	EffectIDFinish        uint8 = 0xfe
	EffectIDStop          uint8 = 0xff
)

// EffectKind is the script an identify run is executing.
type EffectKind uint8

const (
	EffectNone EffectKind = iota
	EffectBlink
	EffectBreathe
	EffectOkay
	EffectChannelChange
)

func (k EffectKind) String() string {
	switch k {
	case EffectNone:
		return "none"
	case EffectBlink:
		return "blink"
	case EffectBreathe:
		return "breathe"
	case EffectOkay:
		return "okay"
	case EffectChannelChange:
		return "channel_change"
	default:
		return "unknown"
	}
}

// EffectKindFor maps an effect id to its script. Finish, Stop and unknown
// ids map to EffectNone.
func EffectKindFor(id uint8) EffectKind {
	switch id {
	case EffectIDBlink:
		return EffectBlink
	case EffectIDBreathe:
		return EffectBreathe
	case EffectIDOkay:
		return EffectOkay
	case EffectIDChannelChange:
		return EffectChannelChange
	default:
		return EffectNone
	}
}

type frame struct {
	level uint8
	hold  time.Duration
}

func alternate(n int, hold time.Duration) []frame {
	frames := make([]frame, n)
	for i := range frames {
		if i%2 == 0 {
			frames[i] = frame{level: 255, hold: hold}
		} else {
			frames[i] = frame{level: 0, hold: hold}
		}
	}
	return frames
}

var scripts = map[EffectKind][]frame{
	EffectBlink:   {{level: 255, hold: 500 * time.Millisecond}},
	EffectBreathe: alternate(30, 500*time.Millisecond),
	EffectOkay:    alternate(4, 200*time.Millisecond),
	EffectChannelChange: {
		{level: 255, hold: 500 * time.Millisecond},
		{level: 25, hold: 7500 * time.Millisecond},
	},
}

// ScriptDuration returns how long an effect runs before it restores.
func ScriptDuration(kind EffectKind) time.Duration {
	var total time.Duration
	for _, f := range scripts[kind] {
		total += f.hold
	}
	return total
}

// SteadySource supplies the brightness the attributes call for, used to
// restore the output after an effect.
type SteadySource interface {
	SteadyLevel() uint8
}

// EffectState is a snapshot of the identify engine.
type EffectState struct {
	Kind EffectKind
	Step uint8
}

// Identify runs scripted effects. It takes the output from the fade
// engine for the duration of the script and always finishes by
// restoring the attribute-defined brightness.
type Identify struct {
	out        *Output
	transition *Transition
	steady     SteadySource
	work       *workq.Delayed
	state      EffectState
}

// NewIdentify creates an idle identify engine.
func NewIdentify(q *workq.Queue, out *Output, transition *Transition, steady SteadySource) *Identify {
	e := &Identify{out: out, transition: transition, steady: steady}
	e.work = q.NewDelayed(e.step)
	return e
}

// Trigger handles an effect id. A script effect replaces whatever effect
// was running. Finish, Stop and unknown ids restore immediately.
func (e *Identify) Trigger(effectID uint8) {
	e.work.Cancel()
	e.transition.Cancel()

	kind := EffectKindFor(effectID)
	log.Info().Uint8("effect_id", effectID).Stringer("effect", kind).Msg("Identify effect")

	if kind == EffectNone {
		e.finish()
		return
	}

	e.state = EffectState{Kind: kind}
	e.out.claim(WriterIdentify)
	e.work.Schedule(0)
}

// Active reports whether a script is running.
func (e *Identify) Active() bool {
	return e.state.Kind != EffectNone
}

// State returns a snapshot of the engine.
func (e *Identify) State() EffectState {
	return e.state
}

func (e *Identify) step() {
	frames := scripts[e.state.Kind]
	if int(e.state.Step) >= len(frames) {
		e.finish()
		return
	}

	f := frames[e.state.Step]
	e.state.Step++
	e.out.Set(WriterIdentify, f.level)
	e.work.Schedule(f.hold)
}

func (e *Identify) finish() {
	e.work.Cancel()
	e.state = EffectState{}
	e.out.claim(WriterSteady)

	level := e.steady.SteadyLevel()
	e.out.Set(WriterSteady, level)
	log.Debug().Uint8("level", level).Msg("Identify finished, brightness restored")
}
