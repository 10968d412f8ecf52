// Package extraction runs platform extractions: single-platform jobs, the
// all-platform fan-out, and the stale-job reaper.
package extraction

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/metrics"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/tokens"
)

// ErrNotConnected is returned when extraction is requested for a pair
// without a usable connection.
var ErrNotConnected = errors.New("platform not connected")

// ErrAlreadyRunning is returned when a running job already exists for the
// pair. The job ledger enforces this with a partial unique index, so the
// check holds under concurrent triggers.
var ErrAlreadyRunning = errors.New("extraction already running")

// Orchestrator coordinates one extraction end to end: token freshness, job
// ledger transitions, extractor invocation, and persistence. Data points are
// written before the job is marked completed, so a completed job always has
// its data visible.
type Orchestrator struct {
	store    store.Store
	tokens   *tokens.Manager
	registry *platforms.Registry
	pub      tokens.Publisher
	log      zerolog.Logger
	now      func() time.Time
}

// NewOrchestrator constructs an Orchestrator. pub may be nil.
func NewOrchestrator(s store.Store, tm *tokens.Manager, reg *platforms.Registry, pub tokens.Publisher, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    s,
		tokens:   tm,
		registry: reg,
		pub:      pub,
		log:      log.With().Str("component", "extraction").Logger(),
		now:      time.Now,
	}
}

// ExtractOne runs a full extraction for one (user, platform) pair. The
// returned result is always populated; err mirrors the rejected case so
// direct callers can map it onto a status code.
func (o *Orchestrator) ExtractOne(ctx context.Context, userID, platform string) (model.PlatformResult, error) {
	result := model.PlatformResult{Platform: platform, Status: "rejected"}

	conn, err := o.store.Connections().GetByUserPlatform(ctx, userID, platform)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			err = ErrNotConnected
		}
		return o.reject(result, err), err
	}
	if conn.Status == model.ConnectionDisconnected {
		return o.reject(result, ErrNotConnected), ErrNotConnected
	}

	extractor, ok := o.registry.Extractor(platform)
	if !ok {
		err := errors.Errorf("unknown platform: %s", platform)
		return o.reject(result, err), err
	}

	started := o.now().UTC()
	job, err := o.store.Jobs().Create(ctx, &model.ExtractionJob{
		UserID:    userID,
		Platform:  platform,
		Status:    model.JobRunning,
		StartedAt: &started,
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			err = ErrAlreadyRunning
		}
		return o.reject(result, err), err
	}
	result.JobID = job.ID

	points, err := o.run(ctx, conn, extractor)
	if err != nil {
		o.settleFailure(ctx, conn, job, err)
		metrics.ObserveExtraction(platform, "failed", started)
		return o.reject(result, err), err
	}

	if err := o.persist(ctx, conn, job, points); err != nil {
		o.settleFailure(ctx, conn, job, err)
		metrics.ObserveExtraction(platform, "failed", started)
		return o.reject(result, err), err
	}

	metrics.ObserveExtraction(platform, "completed", started)
	metrics.AddDataPoints(platform, len(points))

	result.Status = "fulfilled"
	result.DataPoints = len(points)
	o.log.Info().
		Str("userId", userID).
		Str("platform", platform).
		Str("jobId", job.ID).
		Int("dataPoints", len(points)).
		Msg("extraction completed")

	if o.pub != nil && len(points) > 0 {
		o.pub.Publish(model.UpdateEvent{
			Type:     model.EventNewData,
			UserID:   userID,
			Platform: platform,
			Data: map[string]interface{}{
				"jobId":      job.ID,
				"dataPoints": len(points),
			},
			Timestamp: o.now().UTC(),
		})
	}
	return result, nil
}

// run fetches a fresh token and invokes the extractor with what is already
// known about the pair, so extractors can fetch incrementally.
func (o *Orchestrator) run(ctx context.Context, conn *model.PlatformConnection, extractor platforms.Extractor) ([]*model.SoulDataPoint, error) {
	token, err := o.tokens.FreshToken(ctx, conn.ID)
	if err != nil {
		return nil, err
	}
	return extractor.Extract(ctx, token, &platforms.PriorState{LastSyncAt: conn.LastSyncAt})
}

// persist writes data points, then settles the ledger and sync state.
// Extractors work from a bare token and know nothing about the owning
// connection, so ownership is stamped here.
func (o *Orchestrator) persist(ctx context.Context, conn *model.PlatformConnection, job *model.ExtractionJob, points []*model.SoulDataPoint) error {
	if len(points) > 0 {
		for _, p := range points {
			p.UserID = conn.UserID
		}
		if err := o.store.DataPoints().InsertBatch(ctx, points); err != nil {
			return err
		}
	}
	if err := o.store.Jobs().Complete(ctx, job.ID, len(points), len(points), 0); err != nil {
		return err
	}
	return o.store.Connections().UpdateSyncState(ctx, conn.ID, o.now().UTC(), "success")
}

// settleFailure classifies the error, fails the job, and updates connection
// state. Rate limits and transient faults leave the connection connected;
// only an auth failure demands the user's attention.
func (o *Orchestrator) settleFailure(ctx context.Context, conn *model.PlatformConnection, job *model.ExtractionJob, cause error) {
	if err := o.store.Jobs().Fail(ctx, job.ID, cause.Error()); err != nil && !errors.Is(err, model.ErrNotFound) {
		o.log.Error().Err(err).Str("jobId", job.ID).Msg("failed to fail job")
	}
	if err := o.store.Connections().UpdateSyncState(ctx, conn.ID, o.now().UTC(), "failed"); err != nil {
		o.log.Error().Err(err).Str("connectionId", conn.ID).Msg("failed to update sync state")
	}

	switch {
	case platforms.IsTokenExpired(cause):
		if err := o.store.Connections().UpdateStatus(ctx, conn.ID, model.ConnectionNeedsReauth); err != nil {
			o.log.Error().Err(err).Str("connectionId", conn.ID).Msg("failed to mark needs_reauth")
		}
	case platforms.IsPermanent(cause):
		// Revoked grant or missing scope. Reconnecting is the only way out.
		if err := o.store.Connections().UpdateStatus(ctx, conn.ID, model.ConnectionDisconnected); err != nil {
			o.log.Error().Err(err).Str("connectionId", conn.ID).Msg("failed to mark disconnected")
		}
	default:
		if rl, ok := platforms.IsRateLimited(cause); ok {
			o.log.Warn().
				Str("platform", conn.Platform).
				Dur("retryAfter", rl.RetryAfter).
				Msg("extraction rate limited")
		}
	}
}

func (o *Orchestrator) reject(result model.PlatformResult, err error) model.PlatformResult {
	msg := err.Error()
	result.Error = &msg
	return result
}

// ExtractAll fans out one extraction per active connection and waits for
// all of them. The summary always carries exactly one result per platform,
// and one platform's failure never hides another's success.
func (o *Orchestrator) ExtractAll(ctx context.Context, userID string) (*model.ExtractionSummary, error) {
	conns, err := o.store.Connections().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var active []*model.PlatformConnection
	for _, c := range conns {
		if c.Status != model.ConnectionDisconnected {
			active = append(active, c)
		}
	}

	summary := &model.ExtractionSummary{
		UserID:  userID,
		Results: make([]model.PlatformResult, len(active)),
	}

	var wg sync.WaitGroup
	for i, conn := range active {
		wg.Add(1)
		go func(i int, platform string) {
			defer wg.Done()
			result, _ := o.ExtractOne(ctx, userID, platform)
			summary.Results[i] = result
		}(i, conn.Platform)
	}
	wg.Wait()

	for _, r := range summary.Results {
		if r.Status == "fulfilled" {
			summary.SuccessCount++
		} else {
			summary.FailureCount++
		}
	}

	if o.pub != nil {
		o.pub.Publish(model.UpdateEvent{
			Type:     model.EventPlatformSync,
			UserID:   userID,
			Platform: "all",
			Data: map[string]interface{}{
				"successCount": summary.SuccessCount,
				"failureCount": summary.FailureCount,
			},
			Timestamp: o.now().UTC(),
		})
	}
	return summary, nil
}
