package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/copperlight/internal/config"
	"github.com/dokzlo13/copperlight/internal/hal"
	"github.com/dokzlo13/copperlight/internal/hal/periphhal"
	"github.com/dokzlo13/copperlight/internal/hal/sim"
)

// HardwareService opens the configured board driver.
type HardwareService struct {
	Board *hal.Board

	// Sim is set when running on the simulated board.
	Sim   *sim.Board
	close func() error
}

// NewHardwareService opens the board selected by hardware.driver.
func NewHardwareService(cfg *config.Config) (*HardwareService, error) {
	hw := cfg.Hardware

	if hw.Driver == config.DriverSim {
		log.Warn().Msg("Using simulated hardware")
		b := sim.NewBoard(0)
		return &HardwareService{Board: b.HAL(), Sim: b}, nil
	}

	b, err := periphhal.Open(periphhal.Config{
		PWMPin:          hw.PWMPin,
		PWMFrequencyHz:  hw.PWMFrequencyHz,
		AIN1Pin:         hw.AIN1Pin,
		AIN2Pin:         hw.AIN2Pin,
		StandbyPin:      hw.StandbyPin,
		ButtonPin:       hw.ButtonPin,
		ButtonActiveLow: hw.ButtonActiveLow,
		StatusPin:       hw.StatusPin,
		ADCBus:          hw.ADCBus,
		ADCChannel:      hw.ADCChannel,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("pwm", hw.PWMPin).Str("button", hw.ButtonPin).Msg("Opened periph.io board")
	return &HardwareService{Board: b.HAL(), close: b.Close}, nil
}

// Close releases driver resources.
func (s *HardwareService) Close() {
	if s.close == nil {
		return
	}
	if err := s.close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close hardware")
	}
}
