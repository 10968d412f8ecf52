package store

import (
	"context"
	"time"

	"github.com/soulprint/soulprint-sync/internal/model"
)

// Store exposes persistence operations required by the sync service.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
type Store interface {
	Connections() Connections
	Jobs() Jobs
	DataPoints() DataPoints
	Webhooks() Webhooks
	OAuthStates() OAuthStates
}

// Connections manages PlatformConnection rows. The schema enforces at most
// one connection per (user, platform); Upsert implements reconnect semantics.
type Connections interface {
	Upsert(ctx context.Context, c *model.PlatformConnection) (*model.PlatformConnection, error)
	Get(ctx context.Context, id string) (*model.PlatformConnection, error)
	GetByUserPlatform(ctx context.Context, userID, platform string) (*model.PlatformConnection, error)
	ListByUser(ctx context.Context, userID string) ([]*model.PlatformConnection, error)
	// ListConnectedByPlatform returns connected users for one platform,
	// used by polling sweeps.
	ListConnectedByPlatform(ctx context.Context, platform string) ([]*model.PlatformConnection, error)
	// ListExpiring returns connected rows whose token expiry is known and
	// earlier than the cutoff. Non-expiring tokens (nil expiry) are skipped.
	ListExpiring(ctx context.Context, cutoff time.Time) ([]*model.PlatformConnection, error)
	UpdateTokens(ctx context.Context, id, encAccess string, encRefresh *string, expiresAt *time.Time) error
	UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error
	UpdateSyncState(ctx context.Context, id string, at time.Time, syncStatus string) error
}

// Jobs is the extraction job ledger. Create inserts a job in its given
// status; inserting a second running job for the same (user, platform)
// fails with model.ErrConflict via a partial unique index, which is what
// makes concurrent trigger attempts safe.
type Jobs interface {
	Create(ctx context.Context, j *model.ExtractionJob) (*model.ExtractionJob, error)
	Get(ctx context.Context, id string) (*model.ExtractionJob, error)
	Complete(ctx context.Context, id string, total, processed, failed int) error
	Fail(ctx context.Context, id, errorMessage string) error
	// ReapStale force-fails running jobs started before the cutoff and
	// returns how many were reaped.
	ReapStale(ctx context.Context, cutoff time.Time, errorMessage string) (int, error)
	LatestForPair(ctx context.Context, userID, platform string) (*model.ExtractionJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.ExtractionJob, error)
}

// DataPoints stores extracted signals. Rows are immutable; Latest returns
// the newest row per dataType so later extractions supersede earlier ones.
type DataPoints interface {
	InsertBatch(ctx context.Context, points []*model.SoulDataPoint) error
	Latest(ctx context.Context, userID, platform string) ([]*model.SoulDataPoint, error)
	CountByUser(ctx context.Context, userID string) (int, error)
}

// Webhooks tracks provider-side push registrations.
type Webhooks interface {
	Create(ctx context.Context, w *model.WebhookRegistration) (*model.WebhookRegistration, error)
	Get(ctx context.Context, id string) (*model.WebhookRegistration, error)
	GetByUserPlatform(ctx context.Context, userID, platform string) (*model.WebhookRegistration, error)
	DeleteByUserPlatform(ctx context.Context, userID, platform string) error
}

// OAuthStates holds short-lived CSRF state for authorization flows.
// Consume removes the record atomically so each state is used exactly once.
type OAuthStates interface {
	Create(ctx context.Context, s *model.OAuthState) error
	Consume(ctx context.Context, state string) (*model.OAuthState, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}
