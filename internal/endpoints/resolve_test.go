package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/vast"
)

type stubResolver struct {
	out   *adtag.Outcome
	calls []string
}

func (s *stubResolver) Process(ctx context.Context, tagURL string) *adtag.Outcome {
	s.calls = append(s.calls, tagURL)
	return s.out
}

func inlineVAST() string {
	return vast.NewBuilder("3.0").
		AddAd("1").
		WithInLine("TestSystem", "Test Ad").
		WithImpression("https://track.example.com/imp").
		WithLinearCreative("c1", 15*time.Second).
		WithMediaFile("https://cdn.example.com/ad.mp4", "video/mp4", 1280, 720).
		WithTracking("start", "https://track.example.com/start").
		EndLinear().
		Done().
		String()
}

func newProcessor(docs map[string]string) *adtag.Processor {
	log := zerolog.Nop()
	fetcher := adtag.FetcherFunc(func(ctx context.Context, u string) ([]byte, error) {
		doc, ok := docs[u]
		if !ok {
			return nil, errors.New("not found")
		}
		return []byte(doc), nil
	})
	return adtag.NewProcessor(fetcher, adtag.Config{Picker: vast.DefaultPicker(1280, 720), Logger: &log})
}

func resolve(t *testing.T, h http.Handler, tagURL string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/adtag/resolve?url="+url.QueryEscape(tagURL), nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestResolveHandler_Valid(t *testing.T) {
	h := NewResolveHandler(newProcessor(map[string]string{
		"https://ads.example.com/vast": inlineVAST(),
	}))

	rr := resolve(t, h, "https://ads.example.com/vast")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "valid", resp.Kind)
	assert.Equal(t, "ad", resp.Type)
	assert.False(t, resp.PlayContent)
	assert.Equal(t, 1, resp.Hops)
	assert.Equal(t, "https://cdn.example.com/ad.mp4", resp.SelectedMediaURL)
	require.NotNil(t, resp.Model)
	assert.Equal(t, []string{"https://track.example.com/start"}, resp.Model.TrackingEvents.URLs(vast.EventStart))
	assert.Empty(t, resp.Breaks)
	assert.NotEmpty(t, resp.ID)
}

func TestResolveHandler_FailureIsStill200(t *testing.T) {
	h := NewResolveHandler(newProcessor(map[string]string{}))

	rr := resolve(t, h, "https://ads.example.com/missing")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "fetch_failure", resp.Kind)
	assert.True(t, resp.PlayContent)
	assert.Contains(t, resp.Error, "not found")
	assert.Nil(t, resp.Model)
}

func TestResolveHandler_ManifestBreaks(t *testing.T) {
	manifest := `<vmap:VMAP xmlns:vmap="http://www.iab.net/videosuite/vmap" version="1.0">
<vmap:AdBreak timeOffset="start" breakType="linear" breakId="pre">
  <vmap:AdSource id="pre"><vmap:AdTagURI templateType="vast3"><![CDATA[https://ads.example.com/vast]]></vmap:AdTagURI></vmap:AdSource>
</vmap:AdBreak>
<vmap:AdBreak timeOffset="end" breakType="linear" breakId="post">
  <vmap:AdSource id="post"><vmap:AdTagURI templateType="vast3"><![CDATA[https://ads.example.com/gone]]></vmap:AdTagURI></vmap:AdSource>
</vmap:AdBreak>
</vmap:VMAP>`
	h := NewResolveHandler(newProcessor(map[string]string{
		"https://ads.example.com/vmap": manifest,
		"https://ads.example.com/vast": inlineVAST(),
	}))

	rr := resolve(t, h, "https://ads.example.com/vmap")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp ResolveResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "valid", resp.Kind)
	assert.Equal(t, "manifest", resp.Type)
	require.Len(t, resp.Breaks, 2)
	assert.Equal(t, "pre", resp.Breaks[0].ID)
	assert.Equal(t, "valid", resp.Breaks[0].Kind)
	assert.Equal(t, "post", resp.Breaks[1].ID)
	assert.Equal(t, "fetch_failure", resp.Breaks[1].Kind)
	assert.Equal(t, "end", resp.Breaks[1].TimeOffset)
}

func TestResolveHandler_BadRequests(t *testing.T) {
	stub := &stubResolver{}
	h := NewResolveHandler(stub)

	tests := []struct {
		name   string
		target string
	}{
		{"missing url", "/adtag/resolve"},
		{"relative url", "/adtag/resolve?url=" + url.QueryEscape("/vast.xml")},
		{"bad scheme", "/adtag/resolve?url=" + url.QueryEscape("ftp://ads.example.com/vast")},
		{"too long", "/adtag/resolve?url=" + url.QueryEscape("https://ads.example.com/"+strings.Repeat("a", maxTagURLLength))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
	assert.Empty(t, stub.calls)
}

func TestResolveHandler_MethodNotAllowed(t *testing.T) {
	h := NewResolveHandler(&stubResolver{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/adtag/resolve?url=https://a.example.com", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNewResolveResponse_Reason(t *testing.T) {
	out := &adtag.Outcome{
		ID:     "id-1",
		Kind:   adtag.StructuralInvalid,
		Type:   adtag.AdResponse,
		Reason: vast.ReasonNoMediaStream,
	}
	resp := NewResolveResponse(out)
	assert.Equal(t, "structural_invalid", resp.Kind)
	assert.Equal(t, "no_media_stream", resp.Reason)
	assert.True(t, resp.PlayContent)
	assert.Empty(t, resp.SelectedMediaURL)
}
