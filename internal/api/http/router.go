package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/soulprint/soulprint-sync/internal/metrics"
)

// Handlers bundles everything the router mounts.
type Handlers struct {
	OAuth       *OAuthHandler
	Connections *ConnectionHandler
	Extraction  *ExtractionHandler
	Webhooks    *WebhookHandler
	Stream      *StreamHandler
	Health      *HealthHandler

	MetricsEnabled bool
}

// NewRouter wires every route of the service.
func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	r.HandleFunc("/v1/health", h.Health.Health).Methods(http.MethodGet)
	if h.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	// OAuth flow
	r.HandleFunc("/v1/users/{userId}/connect/{platform}", h.OAuth.Connect).Methods(http.MethodGet)
	r.HandleFunc("/v1/oauth/callback/{platform}", h.OAuth.Callback).Methods(http.MethodGet)

	// Connections
	r.HandleFunc("/v1/users/{userId}/connections", h.Connections.List).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{userId}/connections/{platform}", h.Connections.Disconnect).Methods(http.MethodDelete)
	r.HandleFunc("/v1/users/{userId}/status", h.Connections.Status).Methods(http.MethodGet)

	// Extraction
	r.HandleFunc("/v1/users/{userId}/extract", h.Extraction.ExtractAll).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{userId}/extract/{platform}", h.Extraction.ExtractOne).Methods(http.MethodPost)
	r.HandleFunc("/v1/users/{userId}/jobs", h.Extraction.Jobs).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{userId}/soul-data/{platform}", h.Extraction.Data).Methods(http.MethodGet)

	// Inbound webhooks
	r.HandleFunc("/v1/webhooks/{platform}/{registrationId}", h.Webhooks.Receive).Methods(http.MethodPost)

	// Live updates
	r.HandleFunc("/v1/users/{userId}/stream/ws", h.Stream.WebSocket).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{userId}/stream/sse", h.Stream.SSE).Methods(http.MethodGet)

	return r
}
