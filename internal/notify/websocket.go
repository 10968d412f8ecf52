package notify

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/metrics"
	"github.com/soulprint/soulprint-sync/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Same-origin enforcement happens at the edge proxy.
		return true
	},
}

// WSHandler upgrades a request to a WebSocket and streams the user's
// update events until either side closes.
type WSHandler struct {
	hub       *Hub
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewWSHandler constructs a WSHandler sharing the given hub.
func NewWSHandler(hub *Hub, heartbeat time.Duration, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:       hub,
		heartbeat: heartbeat,
		log:       log.With().Str("component", "notify-ws").Logger(),
	}
}

// Serve handles one WebSocket session for userID.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	events, cancel := h.hub.Subscribe(userID)
	metrics.ChannelOpened()
	h.log.Debug().Str("userId", userID).Msg("websocket channel opened")

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, events, done)

	cancel()
	_ = conn.Close()
	metrics.ChannelClosed()
	h.log.Debug().Str("userId", userID).Msg("websocket channel closed")
}

// readPump drains client frames so pongs and close frames are processed.
func (h *WSHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump pushes events and heartbeat pings until the session ends.
func (h *WSHandler) writePump(conn *websocket.Conn, events <-chan model.UpdateEvent, done <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
