package endpoints

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/vast"
)

// maxTagURLLength bounds the url query parameter
const maxTagURLLength = 8192

// Resolver resolves an ad tag URL into an outcome
type Resolver interface {
	Process(ctx context.Context, url string) *adtag.Outcome
}

// ResolveHandler handles GET /adtag/resolve?url=<ad tag>
type ResolveHandler struct {
	resolver Resolver
}

// NewResolveHandler creates a new resolve handler
func NewResolveHandler(resolver Resolver) *ResolveHandler {
	return &ResolveHandler{resolver: resolver}
}

// BreakResponse is the JSON form of one ad break result
type BreakResponse struct {
	ID         string        `json:"id,omitempty"`
	TimeOffset string        `json:"time_offset,omitempty"`
	BreakType  string        `json:"break_type,omitempty"`
	Kind       string        `json:"kind"`
	Reason     string        `json:"reason,omitempty"`
	Hops       int           `json:"hops"`
	Dropped    bool          `json:"dropped,omitempty"`
	Error      string        `json:"error,omitempty"`
	Model      *vast.AdModel `json:"model,omitempty"`
}

// ResolveResponse is the JSON body returned by the resolve endpoint
type ResolveResponse struct {
	ID               string          `json:"id"`
	URL              string          `json:"url"`
	Kind             string          `json:"kind"`
	Type             string          `json:"type"`
	Reason           string          `json:"reason,omitempty"`
	Hops             int             `json:"hops"`
	PlayContent      bool            `json:"play_content"`
	SelectedMediaURL string          `json:"selected_media_url,omitempty"`
	Error            string          `json:"error,omitempty"`
	Model            *vast.AdModel   `json:"model,omitempty"`
	Breaks           []BreakResponse `json:"breaks,omitempty"`
}

// NewResolveResponse converts an outcome to its JSON form
func NewResolveResponse(out *adtag.Outcome) *ResolveResponse {
	resp := &ResolveResponse{
		ID:          out.ID,
		URL:         out.URL,
		Kind:        out.Kind.String(),
		Type:        out.Type.String(),
		Hops:        out.Hops,
		PlayContent: out.Kind.PlayContent(),
		Model:       out.Model,
	}
	if out.Reason != vast.ReasonNone {
		resp.Reason = out.Reason.String()
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if out.Model != nil {
		resp.SelectedMediaURL = out.Model.SelectedMediaURL
	}
	// an ad response is one synthetic break; only manifests list theirs
	if out.Type == adtag.ManifestResponse {
		resp.Breaks = make([]BreakResponse, 0, len(out.Breaks))
		for _, b := range out.Breaks {
			br := BreakResponse{
				ID:         b.ID,
				TimeOffset: b.TimeOffset,
				BreakType:  b.BreakType,
				Kind:       b.Kind.String(),
				Hops:       b.Hops,
				Dropped:    b.Dropped,
				Model:      b.Model,
			}
			if b.Reason != vast.ReasonNone {
				br.Reason = b.Reason.String()
			}
			if b.Err != nil {
				br.Error = b.Err.Error()
			}
			resp.Breaks = append(resp.Breaks, br)
		}
	}
	return resp
}

// ServeHTTP resolves the url query parameter. Every processing outcome,
// failures included, is a 200 with the outcome in the body; only malformed
// requests get a 4xx.
func (h *ResolveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tagURL := r.URL.Query().Get("url")
	if tagURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	if len(tagURL) > maxTagURLLength {
		http.Error(w, "url parameter too long", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(tagURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}

	out := h.resolver.Process(r.Context(), tagURL)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(NewResolveResponse(out)); err != nil {
		log.Error().Err(err).Str("resolution_id", out.ID).Msg("failed to encode resolve response")
	}
}
