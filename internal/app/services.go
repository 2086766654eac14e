package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/battery"
	"github.com/dokzlo13/copperlight/internal/config"
	"github.com/dokzlo13/copperlight/internal/db"
	"github.com/dokzlo13/copperlight/internal/device"
	"github.com/dokzlo13/copperlight/internal/eventbus"
	"github.com/dokzlo13/copperlight/internal/ledger"
	"github.com/dokzlo13/copperlight/internal/settings"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Settings *settings.SQLiteStore
	Ledger   *ledger.Ledger
	Bus      *eventbus.Bus
	Queue    *workq.Queue

	// Hardware and the lighting core
	Hardware *HardwareService
	Device   *device.Controller

	// Outer surfaces
	Bridge *BridgeService
	Health *HealthService

	booted    atomic.Bool
	queueDone chan struct{}
}

// NewServices creates all services with proper dependency injection.
// Mandatory hardware that is not ready aborts initialization.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Settings = settings.NewSQLiteStore(database.DB)
	s.Ledger = ledger.New(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)
	s.Queue = workq.New(workq.SystemClock(), cfg.Queue.Size)

	s.Hardware, err = NewHardwareService(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Device, err = device.New(s.Queue, s.Hardware.Board, s.Settings, s.Bus, deviceConfig(cfg))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("hardware not ready: %w", err)
	}

	s.Bridge = NewBridgeService(cfg, s.Queue, s.Device, s.Ledger)
	s.Health = NewHealthService(cfg, s.booted.Load)

	return s, nil
}

func deviceConfig(cfg *config.Config) device.Config {
	dc := device.DefaultConfig()
	dc.PolarityHz = cfg.Hardware.PolarityHz
	dc.TransitionTenths = *cfg.Light.TransitionTime
	if p, err := cfg.StartupPolicy(); err == nil {
		dc.Startup = p
	}
	dc.LongPress = cfg.Button.LongPress.Duration()
	dc.StatusBlink = cfg.Status.BlinkInterval.Duration()
	dc.ResetBlinks = cfg.Status.ResetBlinks
	dc.ResetBlinkEvery = cfg.Status.ResetBlinkInterval.Duration()
	dc.BatteryEnabled = cfg.Battery.IsEnabled()
	dc.BatteryInterval = cfg.Battery.ReportInterval.Duration()
	dc.BatteryScale = battery.Scale{Num: cfg.Hardware.ADCScaleNum, Den: cfg.Hardware.ADCScaleDen}
	return dc
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Record every outbound report before anything can publish
	s.Ledger.Record(s.Bus)

	s.queueDone = make(chan struct{})
	go func() {
		s.Queue.Run(ctx)
		close(s.queueDone)
	}()

	bootCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	if err := s.Queue.DoSync(bootCtx, func() error {
		s.Device.Boot()
		return nil
	}); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	s.booted.Store(true)

	go func() {
		if err := s.Device.Watch(ctx); err != nil && ctx.Err() == nil {
			onFatalError(fmt.Errorf("button watch: %w", err))
		}
	}()

	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	go s.Ledger.RunRetention(ctx, s.cfg.Ledger.CleanupInterval.Duration(), retention)

	s.Bridge.Start(ctx)
	s.Health.Start(ctx)

	return nil
}

// Booted reports whether the persisted light state has been restored.
func (s *Services) Booted() bool {
	return s.booted.Load()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Queue != nil {
		s.Queue.Close()
		if s.queueDone != nil {
			<-s.queueDone
		}
	}
	// The queue goroutine has exited; shut the output down from here.
	if s.Device != nil {
		s.Device.Shutdown()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Hardware != nil {
		s.Hardware.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
