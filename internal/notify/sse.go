package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/metrics"
)

// SSEHandler streams a user's update events as server-sent events off the
// same hub the WebSocket handler uses.
type SSEHandler struct {
	hub       *Hub
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewSSEHandler constructs an SSEHandler.
func NewSSEHandler(hub *Hub, heartbeat time.Duration, log zerolog.Logger) *SSEHandler {
	return &SSEHandler{
		hub:       hub,
		heartbeat: heartbeat,
		log:       log.With().Str("component", "notify-sse").Logger(),
	}
}

// Serve streams events for userID until the client disconnects.
func (h *SSEHandler) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.hub.Subscribe(userID)
	defer cancel()
	metrics.ChannelOpened()
	defer metrics.ChannelClosed()
	h.log.Debug().Str("userId", userID).Msg("sse channel opened")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.log.Error().Err(err).Msg("failed to encode event")
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
			flusher.Flush()
		case <-ticker.C:
			// Comment line keeps intermediaries from timing the stream out.
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
