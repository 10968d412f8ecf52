package http

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/api/respond"
	"github.com/soulprint/soulprint-sync/internal/monitor"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// WebhookHandler receives provider push deliveries.
type WebhookHandler struct {
	receiver *monitor.Receiver
	log      zerolog.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(rec *monitor.Receiver, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		receiver: rec,
		log:      log.With().Str("component", "webhook-handler").Logger(),
	}
}

// Receive POST /v1/webhooks/{platform}/{registrationId}
//
// Duplicates are acknowledged with 200 so the provider stops redelivering;
// signature failures get 401 and never reach processing.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	platform, registrationID := vars["platform"], vars["registrationId"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respond.WriteBadRequest(w, "unreadable body")
		return
	}

	err = h.receiver.Handle(r.Context(), platform, registrationID, r.Header, body)
	switch {
	case err == nil:
		respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case errors.Is(err, monitor.ErrDuplicateDelivery):
		respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
	case errors.Is(err, monitor.ErrUnknownRegistration):
		respond.WriteNotFound(w, err.Error())
	case errors.Is(err, monitor.ErrBadSignature), errors.Is(err, monitor.ErrStaleDelivery):
		respond.WriteError(w, http.StatusUnauthorized, err.Error())
	default:
		respond.WriteInternalError(w, err.Error())
	}
}
