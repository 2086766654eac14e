package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/copperlight/internal/bridgeapi"
	"github.com/dokzlo13/copperlight/internal/config"
	"github.com/dokzlo13/copperlight/internal/ledger"
	"github.com/dokzlo13/copperlight/internal/workq"
)

// BridgeService wraps the attribute bridge HTTP adapter.
type BridgeService struct {
	cfg    *config.Config
	server *bridgeapi.Server
}

// NewBridgeService creates a new BridgeService.
func NewBridgeService(cfg *config.Config, q *workq.Queue, dev bridgeapi.Device, l *ledger.Ledger) *BridgeService {
	server := bridgeapi.NewServer(cfg.Bridge.Host, cfg.Bridge.Port, q, dev, bridgeapi.Options{
		RateLimit:      rate.Limit(cfg.Bridge.RateLimitRPS),
		Burst:          cfg.Bridge.RateLimitBurst,
		RequestTimeout: cfg.Bridge.RequestTimeout.Duration(),
		Ledger:         l,
	})
	return &BridgeService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the bridge adapter if enabled.
func (s *BridgeService) Start(ctx context.Context) {
	if !s.cfg.Bridge.Enabled {
		log.Debug().Msg("Bridge adapter disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Bridge adapter error")
		}
	}()
}
