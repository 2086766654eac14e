package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/copperlight/internal/attr"
	"github.com/dokzlo13/copperlight/internal/errcode"
	"github.com/dokzlo13/copperlight/internal/eventbus"
	"github.com/dokzlo13/copperlight/internal/hal/sim"
	"github.com/dokzlo13/copperlight/internal/light"
	"github.com/dokzlo13/copperlight/internal/settings"
	"github.com/dokzlo13/copperlight/internal/startup"
	"github.com/dokzlo13/copperlight/internal/workq"
)

type recordPub struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordPub) Publish(e eventbus.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordPub) count(t eventbus.EventType, key string, value any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type != t {
			continue
		}
		if key == "" || e.Data[key] == value {
			n++
		}
	}
	return n
}

type env struct {
	c     *Controller
	q     *workq.Queue
	clock *workq.ManualClock
	board *sim.Board
	store *settings.MemoryStore
	pub   *recordPub
}

func newEnv(t *testing.T, cfg Config, prepare func(*sim.Board, *settings.MemoryStore)) *env {
	t.Helper()
	q, clock := workq.NewManual(64)
	board := sim.NewBoard(sim.DefaultPWMPeriod)
	store := settings.NewMemoryStore()
	if prepare != nil {
		prepare(board, store)
	}
	pub := &recordPub{}
	c, err := New(q, board.HAL(), store, pub, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Watch(context.Background()); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	return &env{c: c, q: q, clock: clock, board: board, store: store, pub: pub}
}

func persisted(on bool, level uint8) func(*sim.Board, *settings.MemoryStore) {
	return func(_ *sim.Board, s *settings.MemoryStore) {
		settings.SaveLightState(s, settings.LightState{OnOff: on, Level: level})
	}
}

func TestNewRequiresMandatoryHardware(t *testing.T) {
	q, _ := workq.NewManual(8)
	board := sim.NewBoard(0)
	board.PWM.SetAbsent(true)

	_, err := New(q, board.HAL(), settings.NewMemoryStore(), nil, DefaultConfig())
	if errcode.Of(err) != errcode.HardwareNotReady {
		t.Fatalf("err = %v, want hardware_not_ready", err)
	}
}

func TestMissingBatteryDisablesGauge(t *testing.T) {
	e := newEnv(t, DefaultConfig(), func(b *sim.Board, _ *settings.MemoryStore) {
		b.Battery.SetAbsent(true)
	})
	if e.c.BatteryEnabled() {
		t.Fatal("battery enabled without ADC")
	}
	e.c.SetJoined(true)
	e.q.Drain()
	if e.board.Battery.Reads() != 0 {
		t.Fatal("ADC read while disabled")
	}
}

func TestBootRestoresPersistedState(t *testing.T) {
	e := newEnv(t, DefaultConfig(), persisted(true, 120))
	e.c.Boot()

	st := e.c.Snapshot()
	if !st.Attributes.OnOff || st.Attributes.CurrentLevel != 120 {
		t.Fatalf("attributes = %+v", st.Attributes)
	}
	if st.Brightness != 120 || !st.BridgeActive || st.Fading {
		t.Fatalf("output = %+v", st)
	}
	if st.Attributes.LastBrightness != 120 {
		t.Errorf("last brightness = %d, want 120", st.Attributes.LastBrightness)
	}
}

func TestBootPolicies(t *testing.T) {
	tests := []struct {
		name       string
		policy     startup.Policy
		wantOn     bool
		wantLevel  uint8
		brightness uint8
	}{
		{"previous", startup.DefaultPolicy, true, 90, 90},
		{"off", startup.Policy{OnOff: startup.OnOffOff, Level: startup.LevelPrevious}, false, 90, 0},
		{"toggle", startup.Policy{OnOff: startup.OnOffToggle, Level: startup.LevelPrevious}, false, 90, 0},
		{"minimum", startup.Policy{OnOff: startup.OnOffOn, Level: startup.LevelMinimum}, true, 0, 0},
		{"specific", startup.Policy{OnOff: startup.OnOffPrevious, Level: startup.LevelSpecific, Specific: 200}, true, 200, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Startup = tt.policy
			e := newEnv(t, cfg, persisted(true, 90))
			e.c.Boot()

			st := e.c.Snapshot()
			if st.Attributes.OnOff != tt.wantOn || st.Attributes.CurrentLevel != tt.wantLevel {
				t.Fatalf("attributes on=%v level=%d", st.Attributes.OnOff, st.Attributes.CurrentLevel)
			}
			if st.Brightness != tt.brightness {
				t.Fatalf("brightness = %d, want %d", st.Brightness, tt.brightness)
			}
		})
	}
}

func TestBootWithPersistenceFailureUsesDefaults(t *testing.T) {
	e := newEnv(t, DefaultConfig(), func(_ *sim.Board, s *settings.MemoryStore) {
		s.FailWith(errors.New("flash error"))
	})
	e.c.Boot()

	st := e.c.Snapshot()
	if st.Attributes.OnOff || st.Attributes.CurrentLevel != attr.DefaultLevel || st.Brightness != 0 {
		t.Fatalf("state = %+v", st)
	}

	// Runtime keeps working without persistence.
	e.c.SetOnOff(true)
	if e.c.Snapshot().Brightness != attr.DefaultLevel {
		t.Fatalf("brightness = %d after SetOnOff", e.c.Snapshot().Brightness)
	}
}

func TestToggleFadesAndPersists(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()

	e.c.Toggle()
	e.q.Drain()
	if !e.c.Snapshot().Fading {
		t.Fatal("toggle did not start a fade")
	}
	e.clock.Advance(980 * time.Millisecond)

	st := e.c.Snapshot()
	if st.Brightness != 254 || st.Fading || !st.Attributes.OnOff {
		t.Fatalf("after fade: %+v", st)
	}
	got, _ := settings.LoadLightState(e.store, settings.LightState{})
	if got != (settings.LightState{OnOff: true, Level: 254}) {
		t.Errorf("persisted = %+v", got)
	}

	e.c.Toggle()
	e.q.Drain()
	e.clock.Advance(time.Second)
	st = e.c.Snapshot()
	if st.Brightness != 0 || st.Attributes.OnOff || st.BridgeActive {
		t.Fatalf("after toggle off: %+v", st)
	}
	if st.Attributes.CurrentLevel != 254 {
		t.Errorf("level attribute = %d, want 254 kept", st.Attributes.CurrentLevel)
	}
}

func TestToggleFallsBackToLastBrightness(t *testing.T) {
	e := newEnv(t, DefaultConfig(), persisted(false, 0))
	e.c.Boot()

	e.c.Toggle()
	e.q.Drain()
	e.clock.Advance(time.Second)

	st := e.c.Snapshot()
	if st.Attributes.CurrentLevel != attr.DefaultLastBrightness || st.Brightness != attr.DefaultLastBrightness {
		t.Fatalf("state = %+v", st)
	}
}

func TestToggleUsesTransitionAttribute(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()
	if err := e.c.WriteAttribute(attr.OnOffTransition, 5); err != nil {
		t.Fatalf("WriteAttribute: %v", err)
	}

	e.c.Toggle()
	e.q.Drain()
	e.clock.Advance(480 * time.Millisecond)
	if e.c.Snapshot().Brightness != 254 {
		t.Fatalf("500 ms fade not finished: %d", e.c.Snapshot().Brightness)
	}
}

func TestToggleDuringFadeLatestWins(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()

	e.c.Toggle()
	e.q.Drain()
	e.clock.Advance(200 * time.Millisecond)
	e.c.Toggle()
	e.q.Drain()

	for i := 0; i < 100; i++ {
		e.clock.Advance(light.StepInterval)
		if e.c.Snapshot().Brightness == 254 {
			t.Fatal("superseded fade target reached")
		}
	}
	if st := e.c.Snapshot(); st.Brightness != 0 || st.Attributes.OnOff {
		t.Fatalf("state = %+v", st)
	}
}

func TestSetLevel(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()

	if err := e.c.SetLevel(300); errcode.Of(err) != errcode.InvalidAttribute {
		t.Fatalf("SetLevel(300) err = %v", err)
	}
	if e.c.Snapshot().Attributes.CurrentLevel != attr.DefaultLevel {
		t.Fatal("invalid level mutated state")
	}

	// While off only the attribute changes.
	if err := e.c.SetLevel(80); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	if st := e.c.Snapshot(); st.Brightness != 0 || st.Attributes.CurrentLevel != 80 {
		t.Fatalf("state = %+v", st)
	}

	e.c.SetOnOff(true)
	e.c.SetLevel(33)
	if st := e.c.Snapshot(); st.Brightness != 33 || st.Attributes.LastBrightness != 33 {
		t.Fatalf("state = %+v", st)
	}
	got, _ := settings.LoadLightState(e.store, settings.LightState{})
	if got != (settings.LightState{OnOff: true, Level: 33}) {
		t.Errorf("persisted = %+v", got)
	}
}

func TestBlinkMidFadeRestoresAttributes(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()

	e.c.Toggle()
	e.q.Drain()
	e.clock.Advance(300 * time.Millisecond)

	e.c.StartIdentify(light.EffectIDBlink)
	e.q.Drain()
	if st := e.c.Snapshot(); st.Writer != "identify" || st.Brightness != 255 {
		t.Fatalf("during effect: %+v", st)
	}

	// Writes during the effect land in the attributes only.
	e.c.SetLevel(100)
	if e.c.Snapshot().Brightness != 255 {
		t.Fatal("level write reached the output during identify")
	}

	e.clock.Advance(500 * time.Millisecond)
	if st := e.c.Snapshot(); st.Brightness != 100 || st.Writer != "steady" {
		t.Fatalf("after effect: %+v", st)
	}
	e.clock.Advance(2 * time.Second)
	if e.c.Snapshot().Brightness != 100 {
		t.Fatal("interrupted fade resumed")
	}
	if e.pub.count(eventbus.EventTypeIdentify, "effect", "blink") != 1 {
		t.Error("identify event not published")
	}
}

func TestShortPressToggles(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()

	e.board.Button.Press()
	e.q.Drain()
	e.clock.Advance(100 * time.Millisecond)
	e.board.Button.Release()
	e.q.Drain()
	e.clock.Advance(time.Second)

	if st := e.c.Snapshot(); !st.Attributes.OnOff || st.Brightness != 254 {
		t.Fatalf("state = %+v", st)
	}
	if e.pub.count(eventbus.EventTypeButton, "press", "short") != 1 {
		t.Error("short press not published")
	}
}

func TestLongPressFactoryReset(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()
	e.c.SetJoined(true)
	e.q.Drain()
	if e.board.Status.Level() {
		t.Fatal("status indicator lit while joined")
	}

	before := e.board.Status.Writes()
	e.board.Button.Press()
	e.q.Drain()
	e.clock.Advance(3 * time.Second)
	e.clock.Advance(550 * time.Millisecond)

	if got := e.board.Status.Writes() - before; got != 6 {
		t.Fatalf("status toggles = %d, want 6", got)
	}
	if e.c.Joined() {
		t.Error("still joined after factory reset")
	}
	if e.pub.count(eventbus.EventTypeNetwork, "leave", true) != 1 {
		t.Error("leave not requested")
	}
	if e.pub.count(eventbus.EventTypeFactoryReset, "", nil) != 1 {
		t.Error("factory reset not published")
	}
	if e.c.Snapshot().Attributes.OnOff {
		t.Error("long press toggled the light")
	}

	// Back to the unjoined pattern once the acknowledgement ends.
	e.clock.Advance(time.Second)
	if !e.c.status.Blinking() {
		t.Error("status indicator not blinking after reset")
	}
}

func TestLongPressWhileUnjoinedDoesNotLeave(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()

	e.board.Button.Press()
	e.q.Drain()
	e.clock.Advance(3 * time.Second)
	if e.pub.count(eventbus.EventTypeNetwork, "leave", true) != 0 {
		t.Fatal("leave requested while not joined")
	}
	if e.pub.count(eventbus.EventTypeFactoryReset, "", nil) != 1 {
		t.Fatal("factory reset not published")
	}
}

func TestStatusIndicatorFollowsNetwork(t *testing.T) {
	e := newEnv(t, DefaultConfig(), nil)
	e.c.Boot()
	e.q.Drain()

	start := e.board.Status.Writes()
	e.clock.Advance(2 * time.Second)
	if got := e.board.Status.Writes() - start; got != 4 {
		t.Fatalf("toggles in 2 s = %d, want 4", got)
	}

	e.c.SetJoined(true)
	e.q.Drain()
	writes := e.board.Status.Writes()
	e.clock.Advance(2 * time.Second)
	if e.board.Status.Level() || e.board.Status.Writes() != writes {
		t.Fatal("status indicator active while joined")
	}
}

func TestJoinStartsBatteryReporting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatteryInterval = time.Minute
	e := newEnv(t, cfg, nil)
	e.c.Boot()

	e.c.SetJoined(true)
	e.q.Drain()
	st := e.c.Snapshot()
	if st.Attributes.BatteryVoltage != 38 || st.Attributes.BatteryPercentage != 100 {
		t.Fatalf("battery attributes = %d/%d", st.Attributes.BatteryVoltage, st.Attributes.BatteryPercentage)
	}
	if e.pub.count(eventbus.EventTypeBattery, "", nil) != 1 {
		t.Fatal("battery report not forwarded")
	}

	e.clock.Advance(time.Minute)
	if e.pub.count(eventbus.EventTypeBattery, "", nil) != 2 {
		t.Fatal("battery cadence not running")
	}
}

func TestWriteAttribute(t *testing.T) {
	tests := []struct {
		id    attr.ID
		value uint16
		want  errcode.Code
	}{
		{attr.OnOff, 1, errcode.OK},
		{attr.OnOff, 2, errcode.InvalidAttribute},
		{attr.CurrentLevel, 256, errcode.InvalidAttribute},
		{attr.StartUpOnOff, 0x02, errcode.OK},
		{attr.StartUpOnOff, 0x05, errcode.InvalidAttribute},
		{attr.StartUpOnOff, 0x102, errcode.InvalidAttribute},
		{attr.StartUpLevel, 0x40, errcode.OK},
		{attr.StartUpLevel, 0x100, errcode.InvalidAttribute},
		{attr.BatteryVoltage, 30, errcode.NotImplemented},
		{attr.ID("color_temperature"), 300, errcode.NotImplemented},
	}
	for _, tt := range tests {
		e := newEnv(t, DefaultConfig(), nil)
		e.c.Boot()
		before := e.c.Snapshot().Attributes

		err := e.c.WriteAttribute(tt.id, tt.value)
		if errcode.Of(err) != tt.want {
			t.Errorf("WriteAttribute(%s, %d) = %v, want %v", tt.id, tt.value, errcode.Of(err), tt.want)
		}
		if tt.want != errcode.OK && e.c.Snapshot().Attributes != before {
			t.Errorf("WriteAttribute(%s, %d) mutated attributes", tt.id, tt.value)
		}
	}

	e := newEnv(t, DefaultConfig(), nil)
	e.c.WriteAttribute(attr.StartUpOnOff, 0x01)
	e.c.WriteAttribute(attr.StartUpLevel, 0x40)
	want := startup.Policy{OnOff: startup.OnOffOn, Level: startup.LevelSpecific, Specific: 0x40}
	if got := e.c.attrs.StartupPolicy(); got != want {
		t.Errorf("StartupPolicy = %+v, want %+v", got, want)
	}
}

func TestFactoryResetStopsBatteryUntilRejoin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatteryInterval = time.Minute
	e := newEnv(t, cfg, nil)
	e.c.Boot()
	e.c.SetJoined(true)
	e.q.Drain()

	e.c.FactoryReset()
	e.q.Drain()
	reads := e.board.Battery.Reads()
	e.clock.Advance(5 * time.Minute)
	if got := e.board.Battery.Reads(); got != reads {
		t.Fatalf("ADC reads after reset = %d, want %d", got, reads)
	}

	e.c.SetJoined(true)
	e.q.Drain()
	if got := e.board.Battery.Reads(); got != reads+1 {
		t.Fatalf("ADC reads after rejoin = %d, want %d", got, reads+1)
	}
}

func TestShutdownTurnsOutputOff(t *testing.T) {
	e := newEnv(t, DefaultConfig(), persisted(true, 120))
	e.c.Boot()
	e.c.StartIdentify(light.EffectIDBreathe)
	e.q.Drain()

	e.c.Shutdown()

	st := e.c.Snapshot()
	if st.Brightness != 0 || st.BridgeActive || st.Effect != "none" {
		t.Fatalf("state after Shutdown = %+v", st)
	}
	if e.board.PWM.Pulse() != 0 || e.board.Standby.Level() || e.board.Status.Level() {
		t.Fatal("hardware still driven after Shutdown")
	}

	ain1 := e.board.AIN1.Writes()
	e.clock.Advance(time.Second)
	e.q.Drain()
	if got := e.board.AIN1.Writes(); got != ain1 {
		t.Errorf("ain1 writes after Shutdown = %d, want %d", got, ain1)
	}
	if e.board.Status.Level() {
		t.Error("status indicator lit after Shutdown")
	}
	if !e.c.Snapshot().Attributes.OnOff {
		t.Error("Shutdown changed the on/off attribute")
	}
}
