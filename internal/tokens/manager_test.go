package tokens

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/logger"
	"github.com/soulprint/soulprint-sync/internal/migrations"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/store/sqlite"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

type nopExtractor struct{ name string }

func (e nopExtractor) Platform() string { return e.name }
func (e nopExtractor) Extract(ctx context.Context, token string, prior *platforms.PriorState) ([]*model.SoulDataPoint, error) {
	return nil, nil
}

type env struct {
	store   store.Store
	vault   *vault.Vault
	manager *Manager
	cfg     *config.Config
	calls   *int32
}

// newEnv wires a manager against an in-memory store and a stub token
// endpoint that counts refresh calls.
func newEnv(t *testing.T, tokenHandler http.HandlerFunc) *env {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(db, "sqlite"))
	st := sqlite.NewWithDB(db)

	cfg := config.NewForTesting()
	cfg.Spotify = config.PlatformCredentials{ClientID: "cid", ClientSecret: "secret"}

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		tokenHandler(w, r)
	}))
	t.Cleanup(srv.Close)

	reg := platforms.NewRegistry()
	reg.Register(platforms.Descriptor{
		Name:  "spotify",
		OAuth: oauth2.Endpoint{AuthURL: srv.URL + "/authorize", TokenURL: srv.URL + "/token"},
		Scopes: []string{
			"user-read-recently-played",
		},
		QualityHigh:   30,
		QualityMedium: 10,
	}, nopExtractor{name: "spotify"})

	v, err := vault.New(cfg.EncryptionKeyBytes())
	require.NoError(t, err)

	log := logger.New("tokens-test")
	return &env{
		store:   st,
		vault:   v,
		manager: NewManager(st, v, reg, cfg, log),
		cfg:     cfg,
		calls:   &calls,
	}
}

func (e *env) seedConnection(t *testing.T, access, refresh string, expiresAt *time.Time) *model.PlatformConnection {
	t.Helper()
	encAccess, err := e.vault.Encrypt(access)
	require.NoError(t, err)

	conn := &model.PlatformConnection{
		UserID:               "user-1",
		Platform:             "spotify",
		EncryptedAccessToken: encAccess,
		TokenExpiresAt:       expiresAt,
		Status:               model.ConnectionConnected,
	}
	if refresh != "" {
		encRefresh, err := e.vault.Encrypt(refresh)
		require.NoError(t, err)
		conn.EncryptedRefreshToken = &encRefresh
	}
	saved, err := e.store.Connections().Upsert(context.Background(), conn)
	require.NoError(t, err)
	return saved
}

func grantJSON(access, refresh string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grant := map[string]interface{}{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if refresh != "" {
			grant["refresh_token"] = refresh
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(grant)
	}
}

func TestFreshTokenStillValidSkipsRefresh(t *testing.T) {
	e := newEnv(t, grantJSON("unused", ""))
	expiry := time.Now().Add(2 * time.Hour)
	conn := e.seedConnection(t, "valid-token", "refresh-1", &expiry)

	got, err := e.manager.FreshToken(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "valid-token", got)
	assert.Equal(t, int32(0), atomic.LoadInt32(e.calls))
}

func TestFreshTokenNilExpirySkipsRefresh(t *testing.T) {
	e := newEnv(t, grantJSON("unused", ""))
	conn := e.seedConnection(t, "forever-token", "refresh-1", nil)

	got, err := e.manager.FreshToken(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "forever-token", got)
	assert.Equal(t, int32(0), atomic.LoadInt32(e.calls))
}

func TestFreshTokenRefreshesNearExpiry(t *testing.T) {
	e := newEnv(t, grantJSON("new-access", "new-refresh"))
	expiry := time.Now().Add(1 * time.Minute) // inside the 5m margin
	conn := e.seedConnection(t, "old-access", "old-refresh", &expiry)

	got, err := e.manager.FreshToken(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", got)
	assert.Equal(t, int32(1), atomic.LoadInt32(e.calls))

	// Rotated material is persisted encrypted.
	stored, err := e.store.Connections().Get(context.Background(), conn.ID)
	require.NoError(t, err)
	access, err := e.vault.Decrypt(stored.EncryptedAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
	require.NotNil(t, stored.EncryptedRefreshToken)
	refresh, err := e.vault.Decrypt(*stored.EncryptedRefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "new-refresh", refresh)
	require.NotNil(t, stored.TokenExpiresAt)
	assert.True(t, stored.TokenExpiresAt.After(time.Now().Add(30*time.Minute)))
}

func TestFreshTokenConcurrentCallsShareOneRefresh(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		grantJSON("shared-access", "shared-refresh")(w, r)
	}
	e := newEnv(t, slow)
	expiry := time.Now().Add(1 * time.Minute)
	conn := e.seedConnection(t, "old-access", "old-refresh", &expiry)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := e.manager.FreshToken(context.Background(), conn.ID)
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}
	wg.Wait()

	for _, tok := range results {
		assert.Equal(t, "shared-access", tok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(e.calls), "singleflight must collapse concurrent refreshes")
}

func TestFreshTokenRevokedGrantMarksNeedsReauth(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	expiry := time.Now().Add(-1 * time.Minute)
	conn := e.seedConnection(t, "old-access", "revoked-refresh", &expiry)

	_, err := e.manager.FreshToken(context.Background(), conn.ID)
	require.Error(t, err)
	assert.True(t, platforms.IsTokenExpired(err))

	stored, err := e.store.Connections().Get(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionNeedsReauth, stored.Status)
}

func TestFreshTokenNoRefreshTokenMarksNeedsReauth(t *testing.T) {
	e := newEnv(t, grantJSON("unused", ""))
	expiry := time.Now().Add(-1 * time.Minute)
	conn := e.seedConnection(t, "old-access", "", &expiry)

	_, err := e.manager.FreshToken(context.Background(), conn.ID)
	require.Error(t, err)
	assert.True(t, platforms.IsTokenExpired(err))
	assert.Equal(t, int32(0), atomic.LoadInt32(e.calls))

	stored, err := e.store.Connections().Get(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionNeedsReauth, stored.Status)
}

func TestFreshTokenProviderOutageIsTransient(t *testing.T) {
	e := newEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	expiry := time.Now().Add(-1 * time.Minute)
	conn := e.seedConnection(t, "old-access", "refresh-1", &expiry)

	_, err := e.manager.FreshToken(context.Background(), conn.ID)
	require.Error(t, err)
	assert.False(t, platforms.IsTokenExpired(err))

	// An outage must not punish the user with a reauth prompt.
	stored, err := e.store.Connections().Get(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionConnected, stored.Status)
}
