package extraction

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/metrics"
	"github.com/soulprint/soulprint-sync/internal/store"
)

const reapMessage = "job exceeded the running deadline"

// Reaper force-fails jobs that have been running longer than the job
// timeout. Without it a crashed extraction would pin its (user, platform)
// pair forever, since the ledger admits one running job per pair.
type Reaper struct {
	store store.Store
	cfg   *config.Config
	log   zerolog.Logger
	now   func() time.Time
}

// NewReaper constructs a Reaper.
func NewReaper(s store.Store, cfg *config.Config, log zerolog.Logger) *Reaper {
	return &Reaper{
		store: s,
		cfg:   cfg,
		log:   log.With().Str("component", "job-reaper").Logger(),
		now:   time.Now,
	}
}

// Run starts the reap loop until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.cfg.ReaperInterval).Dur("timeout", r.cfg.JobTimeout).Msg("job reaper starting")
	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("job reaper stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := r.ReapOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reap pass failed")
			}
		}
	}
}

// ReapOnce fails stale running jobs and purges expired OAuth states.
func (r *Reaper) ReapOnce(ctx context.Context) error {
	cutoff := r.now().Add(-r.cfg.JobTimeout)
	reaped, err := r.store.Jobs().ReapStale(ctx, cutoff, reapMessage)
	if err != nil {
		return err
	}
	if reaped > 0 {
		metrics.AddReapedJobs(reaped)
		r.log.Warn().Int("reaped", reaped).Msg("force-failed stale jobs")
	}

	purged, err := r.store.OAuthStates().PurgeExpired(ctx, r.now().UTC())
	if err != nil {
		return err
	}
	if purged > 0 {
		r.log.Debug().Int("purged", purged).Msg("purged expired oauth states")
	}
	return nil
}
