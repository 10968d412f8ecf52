package monitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/extraction"
	"github.com/soulprint/soulprint-sync/internal/logger"
	"github.com/soulprint/soulprint-sync/internal/migrations"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store/sqlite"
	"github.com/soulprint/soulprint-sync/internal/tokens"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

func TestPollerSweepsConnectedUsers(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(db, "sqlite"))
	st := sqlite.NewWithDB(db)

	cfg := config.NewForTesting()
	v, err := vault.New(cfg.EncryptionKeyBytes())
	require.NoError(t, err)

	ext := &namedExtractor{name: "spotify"}
	reg := platforms.NewRegistry()
	reg.Register(platforms.Descriptor{Name: "spotify", QualityHigh: 30, QualityMedium: 10}, ext)

	log := logger.New("poller-test")
	tm := tokens.NewManager(st, v, reg, cfg, log)
	orch := extraction.NewOrchestrator(st, tm, reg, nil, log)

	enc, err := v.Encrypt("tok")
	require.NoError(t, err)
	for _, userID := range []string{"user-1", "user-2"} {
		_, err := st.Connections().Upsert(context.Background(), &model.PlatformConnection{
			UserID:               userID,
			Platform:             "spotify",
			EncryptedAccessToken: enc,
			Status:               model.ConnectionConnected,
		})
		require.NoError(t, err)
	}

	// needs_reauth and disconnected pairs are not polled.
	broken, err := st.Connections().Upsert(context.Background(), &model.PlatformConnection{
		UserID:               "user-3",
		Platform:             "spotify",
		EncryptedAccessToken: enc,
		Status:               model.ConnectionConnected,
	})
	require.NoError(t, err)
	require.NoError(t, st.Connections().UpdateStatus(context.Background(), broken.ID, model.ConnectionNeedsReauth))

	p := NewPoller(st, reg, orch, cfg, log)
	require.NoError(t, p.SweepOnce(context.Background()))

	assert.Equal(t, 2, ext.count())

	for _, userID := range []string{"user-1", "user-2"} {
		job, err := st.Jobs().LatestForPair(context.Background(), userID, "spotify")
		require.NoError(t, err)
		assert.Equal(t, model.JobCompleted, job.Status)
	}
}
