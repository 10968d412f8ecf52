// Package http provides the HTTP transport for the sync service.
package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/soulprint/soulprint-sync/internal/api/respond"
	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/monitor"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

const stateTTL = 10 * time.Minute

// OAuthHandler drives the authorization-code flow: it hands out consent
// URLs and turns provider callbacks into stored connections.
type OAuthHandler struct {
	store    store.Store
	vault    *vault.Vault
	registry *platforms.Registry
	monitor  *monitor.Manager
	cfg      *config.Config
	log      zerolog.Logger
}

// NewOAuthHandler constructs an OAuthHandler.
func NewOAuthHandler(s store.Store, v *vault.Vault, reg *platforms.Registry, mon *monitor.Manager, cfg *config.Config, log zerolog.Logger) *OAuthHandler {
	return &OAuthHandler{
		store:    s,
		vault:    v,
		registry: reg,
		monitor:  mon,
		cfg:      cfg,
		log:      log.With().Str("component", "oauth-handler").Logger(),
	}
}

func (h *OAuthHandler) oauthConfig(platform string) (*oauth2.Config, error) {
	desc, ok := h.registry.Descriptor(platform)
	if !ok {
		return nil, errors.Errorf("unknown platform: %s", platform)
	}
	creds, ok := h.cfg.Credentials(platform)
	if !ok {
		return nil, errors.Errorf("platform %s is not configured", platform)
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     desc.OAuth,
		Scopes:       desc.Scopes,
		RedirectURL:  h.cfg.BaseURL + "/v1/oauth/callback/" + platform,
	}, nil
}

// Connect GET /v1/users/{userId}/connect/{platform}
//
// Issues a single-use CSRF state and redirects to the provider's consent
// page.
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, platform := vars["userId"], vars["platform"]

	oc, err := h.oauthConfig(platform)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	state := uuid.New().String()
	if err := h.store.OAuthStates().Create(r.Context(), &model.OAuthState{
		State:     state,
		UserID:    userID,
		Platform:  platform,
		ExpiresAt: time.Now().Add(stateTTL).UTC(),
	}); err != nil {
		respond.WriteInternalError(w, "failed to create authorization state")
		return
	}

	http.Redirect(w, r, oc.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusFound)
}

// Callback GET /v1/oauth/callback/{platform}?code=...&state=...
//
// Consumes the state, exchanges the code, and upserts the connection with
// encrypted token material. Reconnecting an existing pair keeps its row.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	platform := mux.Vars(r)["platform"]
	code := r.URL.Query().Get("code")
	stateParam := r.URL.Query().Get("state")
	if code == "" || stateParam == "" {
		respond.WriteBadRequest(w, "code and state are required")
		return
	}

	state, err := h.store.OAuthStates().Consume(r.Context(), stateParam)
	if err != nil {
		respond.WriteBadRequest(w, "invalid or expired state")
		return
	}
	if state.Platform != platform {
		respond.WriteBadRequest(w, "state does not match platform")
		return
	}

	oc, err := h.oauthConfig(platform)
	if err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	token, err := oc.Exchange(r.Context(), code)
	if err != nil {
		h.log.Warn().Err(err).Str("platform", platform).Msg("code exchange failed")
		respond.WriteError(w, http.StatusBadGateway, "token exchange failed")
		return
	}

	conn, err := h.storeConnection(r, state.UserID, platform, token)
	if err != nil {
		respond.WriteInternalError(w, "failed to store connection")
		return
	}

	mode, err := h.monitor.EnsureMonitoring(r.Context(), conn)
	if err != nil {
		h.log.Warn().Err(err).Str("platform", platform).Msg("monitoring setup failed")
		mode = model.MonitorUnmonitored
	}

	h.log.Info().
		Str("userId", state.UserID).
		Str("platform", platform).
		Str("monitorMode", string(mode)).
		Msg("platform connected")

	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"connection":  conn,
		"monitorMode": mode,
	})
}

func (h *OAuthHandler) storeConnection(r *http.Request, userID, platform string, token *oauth2.Token) (*model.PlatformConnection, error) {
	encAccess, err := h.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}

	conn := &model.PlatformConnection{
		UserID:               userID,
		Platform:             platform,
		EncryptedAccessToken: encAccess,
		Status:               model.ConnectionConnected,
	}
	if token.RefreshToken != "" {
		encRefresh, err := h.vault.Encrypt(token.RefreshToken)
		if err != nil {
			return nil, err
		}
		conn.EncryptedRefreshToken = &encRefresh
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		conn.TokenExpiresAt = &expiry
	}
	return h.store.Connections().Upsert(r.Context(), conn)
}
