package light

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/mathx"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// StepInterval is the fade tick period.
const StepInterval = 20 * time.Millisecond

const stepMs = uint32(StepInterval / time.Millisecond)

// TransitionState is a snapshot of the fade engine.
type TransitionState struct {
	Start    uint8
	Target   uint8
	Elapsed  uint32 // ms; wider than Duration so long fades cannot wrap
	Duration uint16 // ms
	Active   bool
}

// Transition fades the output linearly to a target in 20 ms steps and
// always lands exactly on the target.
type Transition struct {
	out   *Output
	work  *workq.Delayed
	state TransitionState
}

// NewTransition creates an idle fade engine driving out.
func NewTransition(q *workq.Queue, out *Output) *Transition {
	t := &Transition{out: out}
	t.work = q.NewDelayed(t.step)
	return t
}

// FadeTo starts a fade from the displayed level, superseding any fade in
// progress. A zero duration, or a target equal to the displayed level,
// applies immediately. While another writer owns the output the request
// is ignored; the owner restores from attributes when it lets go.
func (t *Transition) FadeTo(target uint8, durationMs uint16) {
	t.Cancel()

	if t.out.Owner() != WriterSteady {
		log.Debug().Uint8("target", target).Msg("Fade skipped, output owned by identify")
		return
	}

	current := t.out.Current()
	if durationMs == 0 || target == current {
		t.out.Set(WriterSteady, target)
		return
	}

	t.state = TransitionState{
		Start:    current,
		Target:   target,
		Duration: durationMs,
		Active:   true,
	}
	log.Debug().
		Uint8("from", current).
		Uint8("to", target).
		Uint16("duration_ms", durationMs).
		Msg("Fade started")
	t.work.Schedule(0)
}

// Cancel stops the fade, leaving the output at its last written level.
func (t *Transition) Cancel() {
	t.work.Cancel()
	t.state.Active = false
}

// Active reports whether a fade is in progress.
func (t *Transition) Active() bool {
	return t.state.Active
}

// State returns a snapshot of the engine.
func (t *Transition) State() TransitionState {
	return t.state
}

func (t *Transition) step() {
	if !t.state.Active {
		return
	}

	t.state.Elapsed += stepMs
	if t.state.Elapsed >= uint32(t.state.Duration) {
		t.state.Active = false
		t.out.Set(WriterSteady, t.state.Target)
		return
	}

	level := mathx.LerpFrac(t.state.Start, t.state.Target, int64(t.state.Elapsed), int64(t.state.Duration))
	if !t.out.Set(WriterSteady, level) {
		t.state.Active = false
		return
	}
	t.work.Schedule(StepInterval)
}
