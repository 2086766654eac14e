package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dokzlo13/copperlight/internal/config"
	"github.com/dokzlo13/copperlight/internal/device"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	yaml := fmt.Sprintf("database:\n  path: %s\nhardware:\n  driver: sim\n%s",
		filepath.Join(t.TempDir(), "app.db"), extra)
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}
	return cfg
}

func TestAppBootsOnSimulatedBoard(t *testing.T) {
	cfg := testConfig(t, "light:\n  startup_on_off: \"on\"\n  startup_level: \"100\"\n")

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	s := a.Services()
	if !s.Booted() {
		t.Fatal("expected booted after Start")
	}

	var st device.State
	if err := s.Queue.DoSync(ctx, func() error {
		st = s.Device.Snapshot()
		return nil
	}); err != nil {
		t.Fatalf("DoSync: %v", err)
	}
	if !st.Attributes.OnOff || st.Brightness != 100 {
		t.Fatalf("state = %+v", st)
	}
	if s.Hardware.Sim.PWM.Pulse() == 0 {
		t.Fatal("expected PWM driven after boot")
	}

	// Boot publishes attribute changes, which the ledger records
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := s.Ledger.GetByType("attribute_changed", 10)
		if err != nil {
			t.Fatalf("GetByType: %v", err)
		}
		if len(entries) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no attribute_changed entries recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthReadiness(t *testing.T) {
	var booted atomic.Bool
	h := NewHealthService(testConfig(t, ""), booted.Load)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	get := func(path string) int {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := get("/health"); code != http.StatusOK {
		t.Fatalf("/health = %d", code)
	}
	if code := get("/ready"); code != http.StatusServiceUnavailable {
		t.Fatalf("/ready before boot = %d, want 503", code)
	}
	booted.Store(true)
	if code := get("/ready"); code != http.StatusOK {
		t.Fatalf("/ready after boot = %d", code)
	}
}

func TestDeviceConfigFromConfig(t *testing.T) {
	cfg := testConfig(t, "light:\n  transition_time: 0\nbattery:\n  enabled: false\nstatus:\n  reset_blinks: 4\n")
	dc := deviceConfig(cfg)
	if dc.TransitionTenths != 0 || dc.BatteryEnabled || dc.ResetBlinks != 4 {
		t.Fatalf("device config = %+v", dc)
	}
	if dc.BatteryScale.Num != 18000 || dc.BatteryScale.Den != 4096 {
		t.Fatalf("scale = %+v", dc.BatteryScale)
	}
}

func TestStopTurnsOutputOff(t *testing.T) {
	cfg := testConfig(t, "light:\n  startup_on_off: \"on\"\n  startup_level: \"200\"\n")

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	board := a.Services().Hardware.Sim
	if board.PWM.Pulse() == 0 || !board.Standby.Level() {
		t.Fatal("expected output driven after boot")
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if board.PWM.Pulse() != 0 || board.Standby.Level() {
		t.Fatal("output still driven after Stop")
	}

	ain1 := board.AIN1.Writes()
	time.Sleep(50 * time.Millisecond)
	if got := board.AIN1.Writes(); got != ain1 {
		t.Fatalf("ain1 writes after Stop = %d, want %d", got, ain1)
	}
}
