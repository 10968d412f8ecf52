package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/extraction"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
)

// Poller periodically extracts for every connected pair on platforms
// without webhook support. Users are paced with a rate limiter so a sweep
// never bursts against one provider, and one user's failure never stops
// the sweep.
type Poller struct {
	store    store.Store
	registry *platforms.Registry
	orch     *extraction.Orchestrator
	cfg      *config.Config
	log      zerolog.Logger
}

// NewPoller constructs a Poller.
func NewPoller(s store.Store, reg *platforms.Registry, orch *extraction.Orchestrator, cfg *config.Config, log zerolog.Logger) *Poller {
	return &Poller{
		store:    s,
		registry: reg,
		orch:     orch,
		cfg:      cfg,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Run starts the polling loop until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().
		Dur("interval", p.cfg.PollInterval).
		Strs("platforms", p.registry.PollOnly()).
		Msg("poller starting")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Error().Err(err).Msg("poll sweep failed")
			}
		}
	}
}

// SweepOnce polls every connected pair on every poll-only platform.
func (p *Poller) SweepOnce(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(p.cfg.PollUserDelay), 1)

	for _, platform := range p.registry.PollOnly() {
		conns, err := p.store.Connections().ListConnectedByPlatform(ctx, platform)
		if err != nil {
			return err
		}

		polled, failed := 0, 0
		for _, conn := range conns {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if _, err := p.orch.ExtractOne(ctx, conn.UserID, platform); err != nil {
				if errors.Is(err, extraction.ErrAlreadyRunning) {
					continue
				}
				failed++
				p.log.Warn().Err(err).
					Str("userId", conn.UserID).
					Str("platform", platform).
					Msg("poll extraction failed")
				continue
			}
			polled++
		}
		if polled > 0 || failed > 0 {
			p.log.Info().
				Str("platform", platform).
				Int("polled", polled).
				Int("failed", failed).
				Msg("poll sweep finished")
		}
	}
	return nil
}
