// Package storetest holds a compliance suite run against every
// store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/store"
)

// Run exercises the compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	userID := "u-" + uuid.New().String()

	// Connections: create, then upsert replaces credentials but keeps the row.
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	refresh := "enc-refresh-1"
	c, err := s.Connections().Upsert(ctx, &model.PlatformConnection{
		UserID:                userID,
		Platform:              "spotify",
		EncryptedAccessToken:  "enc-access-1",
		EncryptedRefreshToken: &refresh,
		TokenExpiresAt:        &exp,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if c.ID == "" || c.Status != model.ConnectionConnected {
		t.Fatalf("Upsert: unexpected row %+v", c)
	}

	c2, err := s.Connections().Upsert(ctx, &model.PlatformConnection{
		UserID:               userID,
		Platform:             "spotify",
		EncryptedAccessToken: "enc-access-2",
	})
	if err != nil {
		t.Fatalf("Upsert reconnect: %v", err)
	}
	if c2.ID != c.ID {
		t.Fatalf("reconnect must keep row id: %s vs %s", c2.ID, c.ID)
	}
	if got, _ := s.Connections().GetByUserPlatform(ctx, userID, "spotify"); got.EncryptedAccessToken != "enc-access-2" {
		t.Fatalf("reconnect did not replace token: %+v", got)
	}

	if lst, err := s.Connections().ListByUser(ctx, userID); err != nil || len(lst) != 1 {
		t.Fatalf("ListByUser: n=%d err=%v", len(lst), err)
	}

	// Expiring window query.
	soon := time.Now().Add(5 * time.Minute).UTC()
	if err := s.Connections().UpdateTokens(ctx, c.ID, "enc-access-3", nil, &soon); err != nil {
		t.Fatalf("UpdateTokens: %v", err)
	}
	expiring, err := s.Connections().ListExpiring(ctx, time.Now().Add(10*time.Minute))
	if err != nil || len(expiring) == 0 {
		t.Fatalf("ListExpiring: n=%d err=%v", len(expiring), err)
	}
	// Refresh token survives a nil update (non-rotating providers).
	if got, _ := s.Connections().Get(ctx, c.ID); got.EncryptedRefreshToken == nil || *got.EncryptedRefreshToken != "enc-refresh-1" {
		t.Fatalf("refresh token must survive nil update: %+v", got)
	}

	if err := s.Connections().UpdateStatus(ctx, c.ID, model.ConnectionNeedsReauth); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if got, _ := s.Connections().Get(ctx, c.ID); got.Status != model.ConnectionNeedsReauth {
		t.Fatalf("status not updated: %+v", got)
	}
	if _, err := s.Connections().Get(ctx, uuid.New().String()); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Get missing: want ErrNotFound, got %v", err)
	}

	// Jobs: exactly one running per pair.
	now := time.Now().UTC()
	j1, err := s.Jobs().Create(ctx, &model.ExtractionJob{
		UserID: userID, Platform: "spotify", Status: model.JobRunning, StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("Jobs.Create: %v", err)
	}
	if _, err := s.Jobs().Create(ctx, &model.ExtractionJob{
		UserID: userID, Platform: "spotify", Status: model.JobRunning, StartedAt: &now,
	}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("second running job must conflict, got %v", err)
	}
	// A different platform is unaffected.
	if _, err := s.Jobs().Create(ctx, &model.ExtractionJob{
		UserID: userID, Platform: "github", Status: model.JobRunning, StartedAt: &now,
	}); err != nil {
		t.Fatalf("running job on other platform: %v", err)
	}

	if err := s.Jobs().Complete(ctx, j1.ID, 12, 11, 1); err != nil {
		t.Fatalf("Jobs.Complete: %v", err)
	}
	got, err := s.Jobs().Get(ctx, j1.ID)
	if err != nil || got.Status != model.JobCompleted || got.TotalItems != 12 || got.FailedItems != 1 {
		t.Fatalf("completed job: %+v err=%v", got, err)
	}
	// Completed is terminal.
	if err := s.Jobs().Fail(ctx, j1.ID, "late failure"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Fail on completed job must not match: %v", err)
	}

	// After completion another running job is allowed.
	j2, err := s.Jobs().Create(ctx, &model.ExtractionJob{
		UserID: userID, Platform: "spotify", Status: model.JobRunning, StartedAt: &now,
	})
	if err != nil {
		t.Fatalf("Jobs.Create after complete: %v", err)
	}
	if err := s.Jobs().Fail(ctx, j2.ID, "provider 500"); err != nil {
		t.Fatalf("Jobs.Fail: %v", err)
	}

	// Reaper: stale running jobs are force-failed.
	old := time.Now().Add(-time.Hour).UTC()
	j3, err := s.Jobs().Create(ctx, &model.ExtractionJob{
		UserID: userID, Platform: "discord", Status: model.JobRunning, StartedAt: &old,
	})
	if err != nil {
		t.Fatalf("Jobs.Create stale: %v", err)
	}
	n, err := s.Jobs().ReapStale(ctx, time.Now().Add(-30*time.Minute), "job timed out")
	if err != nil || n != 1 {
		t.Fatalf("ReapStale: n=%d err=%v", n, err)
	}
	if got, _ := s.Jobs().Get(ctx, j3.ID); got.Status != model.JobFailed || got.ErrorMessage == nil {
		t.Fatalf("reaped job: %+v", got)
	}

	if latest, err := s.Jobs().LatestForPair(ctx, userID, "spotify"); err != nil || latest == nil {
		t.Fatalf("LatestForPair: %v", err)
	}
	if lst, err := s.Jobs().ListByUser(ctx, userID, 10); err != nil || len(lst) < 3 {
		t.Fatalf("ListByUser jobs: n=%d err=%v", len(lst), err)
	}

	// Data points: immutable rows, latest-per-dataType supersede reads.
	mk := func(dt string, ts time.Time, q model.Quality) *model.SoulDataPoint {
		return &model.SoulDataPoint{
			UserID:            userID,
			Platform:          "spotify",
			Category:          "entertainment",
			DataType:          dt,
			RawData:           map[string]interface{}{"n": 1.0},
			ExtractedPatterns: map[string]interface{}{"diversity": 0.5},
			Quality:           q,
			Timestamp:         ts,
		}
	}
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	if err := s.DataPoints().InsertBatch(ctx, []*model.SoulDataPoint{
		mk("music_profile", base, model.QualityLow),
		mk("music_profile", base.Add(time.Minute), model.QualityHigh),
		mk("listening_rhythm", base, model.QualityMedium),
	}); err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	latest, err := s.DataPoints().Latest(ctx, userID, "spotify")
	if err != nil || len(latest) != 2 {
		t.Fatalf("Latest: n=%d err=%v", len(latest), err)
	}
	for _, p := range latest {
		if p.DataType == "music_profile" && p.Quality != model.QualityHigh {
			t.Fatalf("Latest must return the superseding row, got %+v", p)
		}
	}
	if n, err := s.DataPoints().CountByUser(ctx, userID); err != nil || n != 3 {
		t.Fatalf("CountByUser: n=%d err=%v", n, err)
	}

	// Webhook registrations: one per pair.
	w, err := s.Webhooks().Create(ctx, &model.WebhookRegistration{
		UserID: userID, Platform: "github", ExternalWebhookID: "hook-1", EncryptedSecret: "enc-secret",
	})
	if err != nil {
		t.Fatalf("Webhooks.Create: %v", err)
	}
	if _, err := s.Webhooks().Create(ctx, &model.WebhookRegistration{
		UserID: userID, Platform: "github", ExternalWebhookID: "hook-2", EncryptedSecret: "enc-secret",
	}); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("duplicate webhook registration must conflict, got %v", err)
	}
	if got, err := s.Webhooks().Get(ctx, w.ID); err != nil || got.ExternalWebhookID != "hook-1" {
		t.Fatalf("Webhooks.Get: %+v err=%v", got, err)
	}
	if err := s.Webhooks().DeleteByUserPlatform(ctx, userID, "github"); err != nil {
		t.Fatalf("Webhooks.Delete: %v", err)
	}
	if _, err := s.Webhooks().GetByUserPlatform(ctx, userID, "github"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("deleted webhook still present: %v", err)
	}

	// OAuth states: consumed exactly once; expired states are rejected.
	st := &model.OAuthState{
		State: uuid.New().String(), UserID: userID, Platform: "spotify",
		ExpiresAt: time.Now().Add(10 * time.Minute).UTC(),
	}
	if err := s.OAuthStates().Create(ctx, st); err != nil {
		t.Fatalf("OAuthStates.Create: %v", err)
	}
	if got, err := s.OAuthStates().Consume(ctx, st.State); err != nil || got.Platform != "spotify" {
		t.Fatalf("Consume: %+v err=%v", got, err)
	}
	if _, err := s.OAuthStates().Consume(ctx, st.State); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("state replay must fail, got %v", err)
	}

	stale := &model.OAuthState{
		State: uuid.New().String(), UserID: userID, Platform: "spotify",
		ExpiresAt: time.Now().Add(-time.Minute).UTC(),
	}
	if err := s.OAuthStates().Create(ctx, stale); err != nil {
		t.Fatalf("OAuthStates.Create stale: %v", err)
	}
	if _, err := s.OAuthStates().Consume(ctx, stale.State); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expired state must be rejected, got %v", err)
	}

	fresh := &model.OAuthState{
		State: uuid.New().String(), UserID: userID, Platform: "github",
		ExpiresAt: time.Now().Add(-time.Minute).UTC(),
	}
	if err := s.OAuthStates().Create(ctx, fresh); err != nil {
		t.Fatalf("OAuthStates.Create: %v", err)
	}
	if n, err := s.OAuthStates().PurgeExpired(ctx, time.Now()); err != nil || n < 1 {
		t.Fatalf("PurgeExpired: n=%d err=%v", n, err)
	}
}
