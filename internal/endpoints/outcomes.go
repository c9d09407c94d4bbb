package endpoints

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adtag/internal/storage"
)

// OutcomeHandler serves the resolution audit log:
//   - GET /adtag/outcomes?limit=N -> newest outcomes
//   - GET /adtag/outcomes?id=<uuid> -> one outcome
type OutcomeHandler struct {
	store *storage.OutcomeStore
}

// NewOutcomeHandler creates a new outcome handler
func NewOutcomeHandler(store *storage.OutcomeStore) *OutcomeHandler {
	return &OutcomeHandler{store: store}
}

// ServeHTTP handles GET requests
func (h *OutcomeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if rawID := r.URL.Query().Get("id"); rawID != "" {
		h.handleGet(w, r, rawID)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list outcomes")
		http.Error(w, "failed to list outcomes", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*storage.OutcomeRecord{}
	}
	writeJSON(w, records)
}

func (h *OutcomeHandler) handleGet(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("outcome_id", rawID).Msg("failed to get outcome")
		http.Error(w, "failed to get outcome", http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
