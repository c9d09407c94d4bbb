package endpoints

import (
	"net/http"

	"github.com/thenexusengine/tne_adtag/internal/cache"
	"github.com/thenexusengine/tne_adtag/pkg/logger"
)

// CacheHandler manages the fetched document cache:
//   - GET    /adtag/cache?url=<ad tag> -> the cached document, if any
//   - DELETE /adtag/cache?url=<ad tag> -> drop the cached document
type CacheHandler struct {
	store *cache.Store
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(store *cache.Store) *CacheHandler {
	return &CacheHandler{store: store}
}

// ServeHTTP routes to the appropriate handler based on method
func (h *CacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tagURL := r.URL.Query().Get("url")
	if tagURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, tagURL)
	case http.MethodDelete:
		h.handleDelete(w, r, tagURL)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *CacheHandler) handleGet(w http.ResponseWriter, r *http.Request, tagURL string) {
	entry, err := h.store.Get(r.Context(), tagURL)
	if err != nil {
		logger.Log.Error().Err(err).Str("url", tagURL).Msg("cache: retrieval error")
		http.Error(w, "cache retrieval failed", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(entry.Value))
}

func (h *CacheHandler) handleDelete(w http.ResponseWriter, r *http.Request, tagURL string) {
	if err := h.store.Invalidate(r.Context(), tagURL); err != nil {
		logger.Log.Error().Err(err).Str("url", tagURL).Msg("cache: invalidation error")
		http.Error(w, "cache invalidation failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
