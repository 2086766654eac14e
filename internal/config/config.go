package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/copperlight/internal/startup"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	Hardware        HardwareConfig    `yaml:"hardware"`
	Light           LightConfig       `yaml:"light"`
	Button          ButtonConfig      `yaml:"button"`
	Battery         BatteryConfig     `yaml:"battery"`
	Status          StatusConfig      `yaml:"status"`
	Bridge          BridgeConfig      `yaml:"bridge"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Queue           QueueConfig       `yaml:"queue"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"` // Structured output instead of the console writer
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Hardware drivers.
const (
	DriverSim    = "sim"
	DriverPeriph = "periph"
)

// HardwareConfig selects the peripheral driver and its wiring
type HardwareConfig struct {
	Driver          string `yaml:"driver"`            // sim | periph (default: sim)
	PWMPin          string `yaml:"pwm_pin"`           // periph pin name, e.g. GPIO18
	PWMFrequencyHz  int    `yaml:"pwm_frequency_hz"`  // Brightness PWM frequency (default: 1000)
	PolarityHz      int    `yaml:"polarity_hz"`       // H-bridge alternation frequency (default: 100)
	AIN1Pin         string `yaml:"ain1_pin"`          // H-bridge phase A
	AIN2Pin         string `yaml:"ain2_pin"`          // H-bridge phase B
	StandbyPin      string `yaml:"standby_pin"`       // H-bridge standby enable
	ButtonPin       string `yaml:"button_pin"`        // User button input
	ButtonActiveLow bool   `yaml:"button_active_low"` // Pressed reads low
	StatusPin       string `yaml:"status_pin"`        // Optional status indicator
	ADCBus          string `yaml:"adc_bus"`           // I2C bus of the battery ADC; empty disables it
	ADCChannel      int    `yaml:"adc_channel"`       // ADS1115 input channel
	ADCScaleNum     uint32 `yaml:"adc_scale_num"`     // mV = raw * num / den (default: 18000)
	ADCScaleDen     uint32 `yaml:"adc_scale_den"`     // (default: 4096)
}

// LightConfig contains light behavior settings
type LightConfig struct {
	TransitionTime *uint16 `yaml:"transition_time"` // On/off fade in 1/10 s (default: 10); 0 means one second
	StartupOnOff   string  `yaml:"startup_on_off"`  // off | on | toggle | previous
	StartupLevel   string  `yaml:"startup_level"`   // minimum | previous | 1-254
}

// ButtonConfig contains button settings
type ButtonConfig struct {
	LongPress Duration `yaml:"long_press"` // Hold time for factory reset (default: 3s)
}

// BatteryConfig contains battery gauge settings
type BatteryConfig struct {
	Enabled        *bool    `yaml:"enabled"`         // Default: true; still requires a ready ADC
	ReportInterval Duration `yaml:"report_interval"` // Default: 1h
}

// IsEnabled reports whether the gauge should run
func (c *BatteryConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// StatusConfig contains status indicator settings
type StatusConfig struct {
	BlinkInterval      Duration `yaml:"blink_interval"`       // Unjoined blink period (default: 500ms)
	ResetBlinks        int      `yaml:"reset_blinks"`         // Toggles acknowledging a factory reset (default: 6)
	ResetBlinkInterval Duration `yaml:"reset_blink_interval"` // (default: 100ms)
}

// BridgeConfig contains the attribute bridge adapter settings
type BridgeConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`   // Default: 20
	RateLimitBurst int      `yaml:"rate_limit_burst"` // Default: 10
	RequestTimeout Duration `yaml:"request_timeout"`  // Time to wait for the work queue (default: 2s)
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// QueueConfig contains work queue settings
type QueueConfig struct {
	Size int `yaml:"size"` // Pending work items (default: 64)
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse expands environment variables in data, decodes it, fills in
// defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./copperlight.sqlite"
	}

	// Hardware defaults
	if cfg.Hardware.Driver == "" {
		cfg.Hardware.Driver = DriverSim
	}
	if cfg.Hardware.PWMFrequencyHz == 0 {
		cfg.Hardware.PWMFrequencyHz = 1000
	}
	if cfg.Hardware.PolarityHz == 0 {
		cfg.Hardware.PolarityHz = 100
	}
	if cfg.Hardware.ADCScaleNum == 0 || cfg.Hardware.ADCScaleDen == 0 {
		cfg.Hardware.ADCScaleNum = 18000
		cfg.Hardware.ADCScaleDen = 4096
	}

	// Light defaults
	if cfg.Light.TransitionTime == nil {
		tenths := uint16(10)
		cfg.Light.TransitionTime = &tenths
	}

	if cfg.Button.LongPress == 0 {
		cfg.Button.LongPress = Duration(3 * time.Second)
	}
	if cfg.Battery.ReportInterval == 0 {
		cfg.Battery.ReportInterval = Duration(time.Hour)
	}

	// Status indicator defaults
	if cfg.Status.BlinkInterval == 0 {
		cfg.Status.BlinkInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Status.ResetBlinks == 0 {
		cfg.Status.ResetBlinks = 6
	}
	if cfg.Status.ResetBlinkInterval == 0 {
		cfg.Status.ResetBlinkInterval = Duration(100 * time.Millisecond)
	}

	// Bridge adapter defaults
	if cfg.Bridge.Host == "" {
		cfg.Bridge.Host = "127.0.0.1"
	}
	if cfg.Bridge.Port == 0 {
		cfg.Bridge.Port = 8080
	}
	if cfg.Bridge.RateLimitRPS == 0 {
		cfg.Bridge.RateLimitRPS = 20
	}
	if cfg.Bridge.RateLimitBurst == 0 {
		cfg.Bridge.RateLimitBurst = 10
	}
	if cfg.Bridge.RequestTimeout == 0 {
		cfg.Bridge.RequestTimeout = Duration(2 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	if cfg.EventBus.Workers <= 0 {
		cfg.EventBus.Workers = 2
	}
	if cfg.EventBus.QueueSize <= 0 {
		cfg.EventBus.QueueSize = 100
	}
	if cfg.Queue.Size <= 0 {
		cfg.Queue.Size = 64
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

func (cfg *Config) validate() error {
	switch cfg.Hardware.Driver {
	case DriverSim:
	case DriverPeriph:
		for name, pin := range map[string]string{
			"pwm_pin":     cfg.Hardware.PWMPin,
			"ain1_pin":    cfg.Hardware.AIN1Pin,
			"ain2_pin":    cfg.Hardware.AIN2Pin,
			"standby_pin": cfg.Hardware.StandbyPin,
			"button_pin":  cfg.Hardware.ButtonPin,
		} {
			if pin == "" {
				return fmt.Errorf("hardware.%s is required for the periph driver", name)
			}
		}
	default:
		return fmt.Errorf("unknown hardware.driver %q", cfg.Hardware.Driver)
	}

	if _, err := cfg.StartupPolicy(); err != nil {
		return fmt.Errorf("light: %w", err)
	}
	return nil
}

// StartupPolicy parses the configured power-on behavior
func (cfg *Config) StartupPolicy() (startup.Policy, error) {
	return startup.Parse(cfg.Light.StartupOnOff, cfg.Light.StartupLevel)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}
