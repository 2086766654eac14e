package device

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/hal"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// Status drives the status indicator: blinking while off the network,
// dark while joined, plus a short burst to acknowledge a factory reset.
type Status struct {
	out        hal.DigitalOut
	blinkEvery time.Duration
	resetEvery time.Duration

	blink *workq.Delayed
	reset *workq.Delayed

	joined    bool
	acking    bool
	resetLeft int
}

func newStatus(q *workq.Queue, out hal.DigitalOut, blinkEvery, resetEvery time.Duration) *Status {
	if !hal.IsReady(out) {
		log.Warn().Msg("Status indicator not ready, disabled")
		out = nil
	}
	s := &Status{out: out, blinkEvery: blinkEvery, resetEvery: resetEvery}
	s.blink = q.NewDelayed(s.blinkStep)
	s.reset = q.NewDelayed(s.resetStep)
	return s
}

// SetJoined switches between the joined (off) and unjoined (blinking)
// patterns.
func (s *Status) SetJoined(joined bool) {
	s.joined = joined
	if s.acking {
		return
	}
	s.apply()
}

// Acknowledge toggles the indicator n times, every resetEvery, then
// resumes the network pattern.
func (s *Status) Acknowledge(n int) {
	if s.out == nil || n <= 0 {
		return
	}
	s.blink.Cancel()
	s.acking = true
	s.resetLeft = n
	s.reset.Schedule(0)
}

// Stop cancels both patterns and leaves the indicator dark.
func (s *Status) Stop() {
	s.blink.Cancel()
	s.reset.Cancel()
	s.acking = false
	if s.out != nil {
		s.write(false)
	}
}

// Blinking reports whether the unjoined pattern is running.
func (s *Status) Blinking() bool {
	return s.blink.Pending()
}

func (s *Status) apply() {
	if s.out == nil {
		return
	}
	if s.joined {
		s.blink.Cancel()
		s.write(false)
		return
	}
	if !s.blink.Pending() {
		s.blink.Schedule(0)
	}
}

func (s *Status) blinkStep() {
	if s.joined {
		s.write(false)
		return
	}
	if err := s.out.Toggle(); err != nil {
		log.Warn().Err(err).Msg("Status indicator write failed")
	}
	s.blink.Schedule(s.blinkEvery)
}

func (s *Status) resetStep() {
	if s.resetLeft <= 0 {
		s.acking = false
		s.apply()
		return
	}
	if err := s.out.Toggle(); err != nil {
		log.Warn().Err(err).Msg("Status indicator write failed")
	}
	s.resetLeft--
	s.reset.Schedule(s.resetEvery)
}

func (s *Status) write(high bool) {
	if err := s.out.Set(high); err != nil {
		log.Warn().Err(err).Msg("Status indicator write failed")
	}
}
