package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/api/respond"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/monitor"
	"github.com/soulprint/soulprint-sync/internal/store"
)

// ConnectionHandler serves connection listing, disconnect, and the
// per-user status summary.
type ConnectionHandler struct {
	store   store.Store
	monitor *monitor.Manager
	log     zerolog.Logger
}

// NewConnectionHandler constructs a ConnectionHandler.
func NewConnectionHandler(s store.Store, mon *monitor.Manager, log zerolog.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		store:   s,
		monitor: mon,
		log:     log.With().Str("component", "connection-handler").Logger(),
	}
}

// List GET /v1/users/{userId}/connections
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	conns, err := h.store.Connections().ListByUser(r.Context(), userID)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
		"count":       len(conns),
	})
}

// Disconnect DELETE /v1/users/{userId}/connections/{platform}
//
// Tears down monitoring and marks the connection disconnected. The row is
// kept so a later reconnect reuses it.
func (h *ConnectionHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, platform := vars["userId"], vars["platform"]

	conn, err := h.store.Connections().GetByUserPlatform(r.Context(), userID, platform)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			respond.WriteNotFound(w, "connection not found")
			return
		}
		respond.WriteInternalError(w, err.Error())
		return
	}

	if err := h.monitor.Teardown(r.Context(), conn); err != nil {
		h.log.Warn().Err(err).
			Str("userId", userID).
			Str("platform", platform).
			Msg("monitoring teardown failed")
	}

	if err := h.store.Connections().UpdateStatus(r.Context(), conn.ID, model.ConnectionDisconnected); err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}

	h.log.Info().Str("userId", userID).Str("platform", platform).Msg("platform disconnected")
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// Status GET /v1/users/{userId}/status
//
// One call answers "what is connected, what ran last, how much data exists".
func (h *ConnectionHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	ctx := r.Context()

	conns, err := h.store.Connections().ListByUser(ctx, userID)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}

	type platformStatus struct {
		Connection *model.PlatformConnection `json:"connection"`
		LatestJob  *model.ExtractionJob      `json:"latestJob,omitempty"`
	}

	statuses := make([]platformStatus, 0, len(conns))
	for _, conn := range conns {
		ps := platformStatus{Connection: conn}
		job, err := h.store.Jobs().LatestForPair(ctx, userID, conn.Platform)
		if err == nil {
			ps.LatestJob = job
		} else if !errors.Is(err, model.ErrNotFound) {
			respond.WriteInternalError(w, err.Error())
			return
		}
		statuses = append(statuses, ps)
	}

	count, err := h.store.DataPoints().CountByUser(ctx, userID)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}

	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"userId":         userID,
		"platforms":      statuses,
		"dataPointCount": count,
	})
}
