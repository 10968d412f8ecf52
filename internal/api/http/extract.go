package http

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/api/respond"
	"github.com/soulprint/soulprint-sync/internal/extraction"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
)

// ExtractionHandler triggers extractions and serves extracted data.
type ExtractionHandler struct {
	store store.Store
	orch  *extraction.Orchestrator
	log   zerolog.Logger
}

// NewExtractionHandler constructs an ExtractionHandler.
func NewExtractionHandler(s store.Store, orch *extraction.Orchestrator, log zerolog.Logger) *ExtractionHandler {
	return &ExtractionHandler{
		store: s,
		orch:  orch,
		log:   log.With().Str("component", "extraction-handler").Logger(),
	}
}

// ExtractOne POST /v1/users/{userId}/extract/{platform}
func (h *ExtractionHandler) ExtractOne(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, platform := vars["userId"], vars["platform"]

	result, err := h.orch.ExtractOne(r.Context(), userID, platform)
	if err != nil {
		switch {
		case errors.Is(err, extraction.ErrNotConnected):
			respond.WriteNotFound(w, err.Error())
		case errors.Is(err, extraction.ErrAlreadyRunning):
			respond.WriteConflict(w, err.Error())
		case platforms.IsTokenExpired(err):
			respond.WriteError(w, http.StatusUnauthorized, err.Error())
		default:
			if rl, ok := platforms.IsRateLimited(err); ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
				respond.WriteError(w, http.StatusTooManyRequests, err.Error())
				return
			}
			respond.WriteError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	respond.WriteJSON(w, http.StatusOK, result)
}

// ExtractAll POST /v1/users/{userId}/extract
func (h *ExtractionHandler) ExtractAll(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	summary, err := h.orch.ExtractAll(r.Context(), userID)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, summary)
}

// Jobs GET /v1/users/{userId}/jobs
func (h *ExtractionHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	jobs, err := h.store.Jobs().ListByUser(r.Context(), userID, 50)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Data GET /v1/users/{userId}/soul-data/{platform}
//
// Returns the latest data point per dataType, so superseded extractions
// never surface.
func (h *ExtractionHandler) Data(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, platform := vars["userId"], vars["platform"]

	points, err := h.store.DataPoints().Latest(r.Context(), userID, platform)
	if err != nil {
		respond.WriteInternalError(w, err.Error())
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"dataPoints": points,
		"count":      len(points),
	})
}
