package button

import (
	"context"
	"testing"
	"time"

	"github.com/dokzlo13/copperlight/internal/hal/sim"
	"github.com/dokzlo13/copperlight/internal/workq"
)

type counts struct{ short, long int }

func newMachine(t *testing.T) (*Machine, *sim.Button, *workq.Queue, *workq.ManualClock, *counts) {
	t.Helper()
	q, clock := workq.NewManual(16)
	btn := sim.NewButton()
	c := &counts{}
	m := New(q, btn, 0, Handlers{
		Short: func() { c.short++ },
		Long:  func() { c.long++ },
	})
	if err := m.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	return m, btn, q, clock, c
}

func TestShortPress(t *testing.T) {
	m, btn, q, clock, c := newMachine(t)

	btn.Press()
	q.Drain()
	if m.State() != Pressed {
		t.Fatalf("state = %v, want pressed", m.State())
	}
	clock.Advance(2999 * time.Millisecond)
	btn.Release()
	q.Drain()

	if c.short != 1 || c.long != 0 {
		t.Fatalf("short = %d long = %d, want 1/0", c.short, c.long)
	}
	clock.Advance(10 * time.Second)
	if c.long != 0 {
		t.Fatal("long press fired after release")
	}
}

func TestLongPressWhileHeld(t *testing.T) {
	_, btn, q, clock, c := newMachine(t)

	btn.Press()
	q.Drain()
	clock.Advance(DefaultLongPress)
	if c.long != 1 || c.short != 0 {
		t.Fatalf("short = %d long = %d, want 0/1", c.short, c.long)
	}

	clock.Advance(time.Minute)
	if c.long != 1 {
		t.Fatalf("long fired %d times", c.long)
	}

	btn.Release()
	q.Drain()
	if c.short != 0 {
		t.Fatal("release after long press emitted a short press")
	}
}

func TestBounceCoalesces(t *testing.T) {
	m, btn, q, clock, c := newMachine(t)

	btn.Press()
	btn.Bounce(5)
	if n := q.Drain(); n != 1 {
		t.Fatalf("drained %d runs, want 1", n)
	}

	// A bounce while held must not re-arm the long press timer.
	clock.Advance(2 * time.Second)
	btn.Bounce(3)
	q.Drain()
	clock.Advance(time.Second)
	if c.long != 1 {
		t.Fatalf("long = %d after 3 s held, want 1", c.long)
	}
	if m.State() != Pressed {
		t.Errorf("state = %v, want pressed", m.State())
	}
}

func TestRepeatedShortPresses(t *testing.T) {
	_, btn, q, clock, c := newMachine(t)
	for i := 0; i < 3; i++ {
		btn.Press()
		q.Drain()
		clock.Advance(100 * time.Millisecond)
		btn.Release()
		q.Drain()
		clock.Advance(100 * time.Millisecond)
	}
	if c.short != 3 || c.long != 0 {
		t.Fatalf("short = %d long = %d, want 3/0", c.short, c.long)
	}
}

func TestReleaseSurvivesFullQueue(t *testing.T) {
	q, clock := workq.NewManual(1)
	btn := sim.NewButton()
	c := &counts{}
	m := New(q, btn, 0, Handlers{
		Short: func() { c.short++ },
		Long:  func() { c.long++ },
	})
	if err := m.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	btn.Press()
	q.Drain()
	clock.Advance(200 * time.Millisecond)

	if !q.Submit(func() {}) {
		t.Fatal("filler Submit() = false")
	}
	btn.Release()
	clock.Advance(5 * time.Second)

	if c.short != 1 || c.long != 0 {
		t.Fatalf("short = %d long = %d for a 200 ms tap on a full queue, want 1/0", c.short, c.long)
	}
	if m.State() != Idle {
		t.Fatalf("state = %v, want idle", m.State())
	}
}
