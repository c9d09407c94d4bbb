package endpoints

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adtag/internal/cache"
	pkgredis "github.com/thenexusengine/tne_adtag/pkg/redis"
)

func newCacheHandler(t *testing.T) (*CacheHandler, *cache.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewStore(client, time.Minute)
	return NewCacheHandler(store), store, mr
}

func TestCacheHandler_GetAndDelete(t *testing.T) {
	h, store, mr := newCacheHandler(t)
	tagURL := "https://ads.example.com/vast?slot=1"
	require.NoError(t, store.Put(context.Background(), tagURL, []byte("<VAST/>")))

	target := "/adtag/cache?url=" + url.QueryEscape(tagURL)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/xml", rr.Header().Get("Content-Type"))
	assert.Equal(t, "<VAST/>", rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, target, nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, mr.Exists(cache.Key(tagURL)))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCacheHandler_Errors(t *testing.T) {
	h, _, mr := newCacheHandler(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/adtag/cache", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/adtag/cache?url=x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	mr.Close()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/adtag/cache?url=x", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
