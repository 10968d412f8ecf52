// Package tokens keeps OAuth access tokens usable: it hands out decrypted
// tokens that are guaranteed fresh for a safety margin, refreshing through
// the provider when needed, and runs the proactive refresh sweeper.
package tokens

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/metrics"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

// Manager decrypts and refreshes connection tokens. Concurrent FreshToken
// calls for the same connection share one refresh via singleflight, so a
// burst of extractions never spends the same refresh token twice.
type Manager struct {
	store    store.Store
	vault    *vault.Vault
	registry *platforms.Registry
	cfg      *config.Config
	log      zerolog.Logger

	group singleflight.Group
	now   func() time.Time
}

// NewManager constructs a Manager.
func NewManager(s store.Store, v *vault.Vault, reg *platforms.Registry, cfg *config.Config, log zerolog.Logger) *Manager {
	return &Manager{
		store:    s,
		vault:    v,
		registry: reg,
		cfg:      cfg,
		log:      log.With().Str("component", "tokens").Logger(),
		now:      time.Now,
	}
}

// FreshToken returns a decrypted access token for the connection that will
// stay valid for at least the configured refresh margin. Tokens without a
// known expiry are returned as-is. A refresh failure that the provider
// reports as an auth failure moves the connection to needs_reauth.
func (m *Manager) FreshToken(ctx context.Context, connectionID string) (string, error) {
	conn, err := m.store.Connections().Get(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if conn.Status == model.ConnectionDisconnected {
		return "", errors.Wrap(model.ErrNotFound, "connection is disconnected")
	}

	if conn.TokenExpiresAt == nil || m.now().Add(m.cfg.RefreshMargin).Before(*conn.TokenExpiresAt) {
		return m.vault.Decrypt(conn.EncryptedAccessToken)
	}

	token, err, _ := m.group.Do(connectionID, func() (interface{}, error) {
		return m.refresh(ctx, conn)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// Refresh forces a provider round-trip for one connection regardless of its
// current expiry. The sweeper uses it for proactive renewal.
func (m *Manager) Refresh(ctx context.Context, conn *model.PlatformConnection) (string, error) {
	token, err, _ := m.group.Do(conn.ID, func() (interface{}, error) {
		return m.refresh(ctx, conn)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (m *Manager) refresh(ctx context.Context, conn *model.PlatformConnection) (string, error) {
	if conn.EncryptedRefreshToken == nil {
		// No refresh token means the grant cannot be renewed silently.
		if mkErr := m.markNeedsReauth(ctx, conn); mkErr != nil {
			m.log.Error().Err(mkErr).Str("connectionId", conn.ID).Msg("failed to mark needs_reauth")
		}
		metrics.ObserveTokenRefresh(conn.Platform, "needs_reauth")
		return "", &platforms.TokenExpiredError{Platform: conn.Platform}
	}

	refreshToken, err := m.vault.Decrypt(*conn.EncryptedRefreshToken)
	if err != nil {
		return "", err
	}

	oc, err := m.oauthConfig(conn.Platform)
	if err != nil {
		return "", err
	}

	src := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil && retrieve.Response.StatusCode < 500 {
			// Provider rejected the grant; user action is required.
			if mkErr := m.markNeedsReauth(ctx, conn); mkErr != nil {
				m.log.Error().Err(mkErr).Str("connectionId", conn.ID).Msg("failed to mark needs_reauth")
			}
			metrics.ObserveTokenRefresh(conn.Platform, "needs_reauth")
			return "", &platforms.TokenExpiredError{Platform: conn.Platform}
		}
		metrics.ObserveTokenRefresh(conn.Platform, "failed")
		return "", &platforms.TransientError{Platform: conn.Platform, Cause: err}
	}

	if err := m.persist(ctx, conn, tok); err != nil {
		return "", err
	}
	metrics.ObserveTokenRefresh(conn.Platform, "refreshed")
	m.log.Info().
		Str("connectionId", conn.ID).
		Str("platform", conn.Platform).
		Time("expiresAt", tok.Expiry).
		Msg("token refreshed")
	return tok.AccessToken, nil
}

// persist re-encrypts the rotated token material. Providers that do not
// rotate the refresh token return an empty one; the store keeps the old
// value in that case.
func (m *Manager) persist(ctx context.Context, conn *model.PlatformConnection, tok *oauth2.Token) error {
	encAccess, err := m.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return err
	}
	var encRefresh *string
	if tok.RefreshToken != "" {
		enc, err := m.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			return err
		}
		encRefresh = &enc
	}
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		t := tok.Expiry.UTC()
		expiresAt = &t
	}
	return m.store.Connections().UpdateTokens(ctx, conn.ID, encAccess, encRefresh, expiresAt)
}

func (m *Manager) markNeedsReauth(ctx context.Context, conn *model.PlatformConnection) error {
	return m.store.Connections().UpdateStatus(ctx, conn.ID, model.ConnectionNeedsReauth)
}

func (m *Manager) oauthConfig(platform string) (*oauth2.Config, error) {
	desc, ok := m.registry.Descriptor(platform)
	if !ok {
		return nil, errors.Errorf("unknown platform: %s", platform)
	}
	creds, ok := m.cfg.Credentials(platform)
	if !ok {
		return nil, errors.Errorf("no OAuth credentials configured for %s", platform)
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     desc.OAuth,
		Scopes:       desc.Scopes,
	}, nil
}
