// Package monitor keeps connected pairs up to date: platforms that support
// webhooks get a provider-side push registration, everything else is covered
// by polling sweeps. A webhook registration that cannot be established falls
// back to polling instead of leaving the pair unmonitored.
package monitor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/tokens"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

// Manager establishes and tears down per-pair monitoring.
type Manager struct {
	store    store.Store
	vault    *vault.Vault
	registry *platforms.Registry
	tokens   *tokens.Manager
	cfg      *config.Config
	client   *resty.Client
	log      zerolog.Logger
}

// NewManager constructs a Manager.
func NewManager(s store.Store, v *vault.Vault, reg *platforms.Registry, tm *tokens.Manager, cfg *config.Config, log zerolog.Logger) *Manager {
	return &Manager{
		store:    s,
		vault:    v,
		registry: reg,
		tokens:   tm,
		cfg:      cfg,
		client:   resty.New().SetTimeout(cfg.CallTimeout),
		log:      log.With().Str("component", "monitor").Logger(),
	}
}

// EnsureMonitoring makes sure updates for the connection's pair will arrive,
// preferring a provider webhook and falling back to polling.
func (m *Manager) EnsureMonitoring(ctx context.Context, conn *model.PlatformConnection) (model.MonitorMode, error) {
	desc, ok := m.registry.Descriptor(conn.Platform)
	if !ok {
		return model.MonitorUnmonitored, errors.Errorf("unknown platform: %s", conn.Platform)
	}
	if !desc.SupportsWebhooks || desc.WebhookRegisterURL == "" || desc.WebhookRegistrationBody == nil {
		return model.MonitorPolling, nil
	}

	if _, err := m.store.Webhooks().GetByUserPlatform(ctx, conn.UserID, conn.Platform); err == nil {
		return model.MonitorWebhook, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.MonitorUnmonitored, err
	}

	reg, err := m.register(ctx, conn, desc)
	if err != nil {
		m.log.Warn().Err(err).
			Str("userId", conn.UserID).
			Str("platform", conn.Platform).
			Msg("webhook registration failed, falling back to polling")
		return model.MonitorPolling, nil
	}
	m.log.Info().
		Str("userId", conn.UserID).
		Str("platform", conn.Platform).
		Str("webhookId", reg.ID).
		Msg("webhook registered")
	return model.MonitorWebhook, nil
}

// register creates the provider-side hook and persists the registration with
// its signing secret encrypted.
func (m *Manager) register(ctx context.Context, conn *model.PlatformConnection, desc platforms.Descriptor) (*model.WebhookRegistration, error) {
	token, err := m.tokens.FreshToken(ctx, conn.ID)
	if err != nil {
		return nil, err
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	encSecret, err := m.vault.Encrypt(secret)
	if err != nil {
		return nil, err
	}

	// The callback URL carries the registration id, never a user id, so
	// the id is chosen before the provider call.
	regID := uuid.New().String()
	callbackURL := fmt.Sprintf("%s/v1/webhooks/%s/%s", m.cfg.BaseURL, conn.Platform, regID)
	var created struct {
		ID int64 `json:"id"`
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(desc.WebhookRegistrationBody(callbackURL, secret)).
		SetResult(&created).
		Post(desc.WebhookRegisterURL)
	if err != nil || resp.IsError() {
		if err == nil {
			err = errors.Errorf("provider returned status %d", resp.StatusCode())
		}
		return nil, errors.Wrap(err, "webhook registration")
	}

	return m.store.Webhooks().Create(ctx, &model.WebhookRegistration{
		ID:                regID,
		UserID:            conn.UserID,
		Platform:          conn.Platform,
		ExternalWebhookID: fmt.Sprintf("%d", created.ID),
		EncryptedSecret:   encSecret,
		Status:            "active",
	})
}

// Teardown removes monitoring for a pair: the provider-side hook is deleted
// best effort, the local registration unconditionally.
func (m *Manager) Teardown(ctx context.Context, conn *model.PlatformConnection) error {
	reg, err := m.store.Webhooks().GetByUserPlatform(ctx, conn.UserID, conn.Platform)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	desc, ok := m.registry.Descriptor(conn.Platform)
	if ok && reg.ExternalWebhookID != "" && desc.WebhookRegisterURL != "" {
		if token, err := m.tokens.FreshToken(ctx, conn.ID); err == nil {
			url := fmt.Sprintf("%s/%s", desc.WebhookRegisterURL, reg.ExternalWebhookID)
			if resp, err := m.client.R().SetContext(ctx).SetAuthToken(token).Delete(url); err != nil || resp.IsError() {
				m.log.Warn().
					Str("platform", conn.Platform).
					Str("externalId", reg.ExternalWebhookID).
					Msg("provider-side webhook deletion failed")
			}
		}
	}

	return m.store.Webhooks().DeleteByUserPlatform(ctx, conn.UserID, conn.Platform)
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
