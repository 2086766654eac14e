package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/copperlight/internal/startup"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Hardware.Driver != DriverSim || cfg.Hardware.PolarityHz != 100 {
		t.Errorf("hardware = %+v", cfg.Hardware)
	}
	if *cfg.Light.TransitionTime != 10 {
		t.Errorf("transition = %d, want 10", *cfg.Light.TransitionTime)
	}
	if cfg.Button.LongPress.Duration() != 3*time.Second {
		t.Errorf("long press = %v", cfg.Button.LongPress.Duration())
	}
	if !cfg.Battery.IsEnabled() || cfg.Battery.ReportInterval.Duration() != time.Hour {
		t.Errorf("battery = %+v", cfg.Battery)
	}
	if cfg.Status.ResetBlinks != 6 || cfg.Status.BlinkInterval.Duration() != 500*time.Millisecond {
		t.Errorf("status = %+v", cfg.Status)
	}
	if cfg.Queue.Size != 64 || cfg.EventBus.Workers != 2 {
		t.Errorf("queue = %+v eventbus = %+v", cfg.Queue, cfg.EventBus)
	}
	policy, err := cfg.StartupPolicy()
	if err != nil || policy != startup.DefaultPolicy {
		t.Errorf("StartupPolicy = %+v, %v", policy, err)
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("COPPERLIGHT_PORT", "9191")
	data := []byte(`
light:
  transition_time: 0
  startup_on_off: toggle
  startup_level: "40"
battery:
  enabled: false
  report_interval: 10m
bridge:
  enabled: true
  port: ${COPPERLIGHT_PORT:8080}
  host: ${COPPERLIGHT_HOST:0.0.0.0}
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *cfg.Light.TransitionTime != 0 {
		t.Errorf("explicit zero transition overwritten: %d", *cfg.Light.TransitionTime)
	}
	if cfg.Battery.IsEnabled() || cfg.Battery.ReportInterval.Duration() != 10*time.Minute {
		t.Errorf("battery = %+v", cfg.Battery)
	}
	if cfg.Bridge.Port != 9191 || cfg.Bridge.Host != "0.0.0.0" {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
	policy, _ := cfg.StartupPolicy()
	want := startup.Policy{OnOff: startup.OnOffToggle, Level: startup.LevelSpecific, Specific: 40}
	if policy != want {
		t.Errorf("StartupPolicy = %+v, want %+v", policy, want)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown driver", "hardware:\n  driver: gpio-magic\n"},
		{"periph without pins", "hardware:\n  driver: periph\n  pwm_pin: GPIO18\n"},
		{"bad startup", "light:\n  startup_on_off: sometimes\n"},
		{"bad duration", "button:\n  long_press: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
