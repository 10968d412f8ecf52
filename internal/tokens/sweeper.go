package tokens

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/store"
)

// Publisher delivers update events to live notification channels.
type Publisher interface {
	Publish(event model.UpdateEvent)
}

// Sweeper proactively refreshes tokens that expire inside the refresh
// window so extractions rarely hit a stale token. One sweep failure never
// blocks the rest of the batch.
type Sweeper struct {
	store   store.Store
	manager *Manager
	pub     Publisher
	cfg     *config.Config
	log     zerolog.Logger

	running atomic.Bool
	now     func() time.Time
}

// NewSweeper constructs a Sweeper. pub may be nil when no live channels are
// wired (tests, CLI tooling).
func NewSweeper(s store.Store, m *Manager, pub Publisher, cfg *config.Config, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:   s,
		manager: m,
		pub:     pub,
		cfg:     cfg,
		log:     log.With().Str("component", "token-sweeper").Logger(),
		now:     time.Now,
	}
}

// Run starts the sweep loop until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.cfg.RefreshInterval).Dur("window", s.cfg.RefreshWindow).Msg("token sweeper starting")
	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("token sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("token sweep failed")
			} else if n > 0 {
				s.log.Info().Int("refreshed", n).Msg("token sweep finished")
			}
		}
	}
}

// SweepOnce refreshes every connection expiring inside the window and
// returns how many were renewed. Overlapping sweeps are skipped rather than
// queued; the next tick picks up whatever remains.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("previous sweep still running, skipping")
		return 0, nil
	}
	defer s.running.Store(false)

	cutoff := s.now().Add(s.cfg.RefreshWindow)
	expiring, err := s.store.Connections().ListExpiring(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, conn := range expiring {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.manager.Refresh(ctx, conn); err != nil {
			s.log.Warn().Err(err).
				Str("connectionId", conn.ID).
				Str("platform", conn.Platform).
				Msg("proactive refresh failed")
			continue
		}
		refreshed++
		if s.pub != nil {
			s.pub.Publish(model.UpdateEvent{
				Type:      model.EventTokenRefreshed,
				UserID:    conn.UserID,
				Platform:  conn.Platform,
				Timestamp: s.now().UTC(),
			})
		}
	}
	return refreshed, nil
}
