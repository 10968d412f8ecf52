package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/soulprint/soulprint-sync/internal/notify"
)

// StreamHandler exposes the live update channels.
type StreamHandler struct {
	ws  *notify.WSHandler
	sse *notify.SSEHandler
}

// NewStreamHandler constructs a StreamHandler.
func NewStreamHandler(ws *notify.WSHandler, sse *notify.SSEHandler) *StreamHandler {
	return &StreamHandler{ws: ws, sse: sse}
}

// WebSocket GET /v1/users/{userId}/stream/ws
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	h.ws.Serve(w, r, mux.Vars(r)["userId"])
}

// SSE GET /v1/users/{userId}/stream/sse
func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	h.sse.Serve(w, r, mux.Vars(r)["userId"])
}
