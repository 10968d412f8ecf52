package http

import (
	"net/http"
	"time"

	"github.com/soulprint/soulprint-sync/internal/api/respond"
	"github.com/soulprint/soulprint-sync/internal/health"
)

// HealthHandler serves the aggregated service health flag.
type HealthHandler struct {
	checker *health.ServiceHealthChecker
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(checker *health.ServiceHealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

// Health GET /v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.checker != nil && !h.checker.IsHealthy() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	respond.WriteJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
