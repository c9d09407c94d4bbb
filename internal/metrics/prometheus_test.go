package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/fetch"
	"github.com/thenexusengine/tne_adtag/pkg/vast"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics("test_adtag", prometheus.NewRegistry())
}

func TestObserve_AdResponse(t *testing.T) {
	m := newTestMetrics(t)

	m.Observe(&adtag.Outcome{
		Kind: adtag.Valid,
		Type: adtag.AdResponse,
		Hops: 3,
		Breaks: []adtag.BreakResult{
			{Kind: adtag.Valid, Model: &vast.AdModel{DroppedEvents: 2}},
		},
	}, 120*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("valid", "ad")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DroppedEvents))
	assert.Equal(t, 1, testutil.CollectAndCount(m.WrapperHops))
	assert.Equal(t, 0, testutil.CollectAndCount(m.AdBreaksTotal), "ad responses do not count breaks")
	assert.Equal(t, 0, testutil.CollectAndCount(m.InvalidReasons))
}

func TestObserve_Manifest(t *testing.T) {
	m := newTestMetrics(t)

	m.Observe(&adtag.Outcome{
		Kind:   adtag.StructuralInvalid,
		Type:   adtag.ManifestResponse,
		Reason: vast.ReasonNoPlayableStream,
		Breaks: []adtag.BreakResult{
			{Kind: adtag.StructuralInvalid, Reason: vast.ReasonNoPlayableStream},
			{Dropped: true, Kind: adtag.StructuralInvalid},
			{Kind: adtag.FetchFailure, Err: errors.New("boom")},
		},
	}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResolutionsTotal.WithLabelValues("structural_invalid", "manifest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvalidReasons.WithLabelValues("no_playable_stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdBreaksTotal.WithLabelValues("structural_invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdBreaksTotal.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdBreaksTotal.WithLabelValues("fetch_failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DroppedEvents))
}

func TestObserve_Nil(t *testing.T) {
	m := newTestMetrics(t)
	m.Observe(nil, time.Second)
	assert.Equal(t, 0, testutil.CollectAndCount(m.ResolutionsTotal))
}

func TestObserveFetch(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveFetch("ads.example.com", fetch.ResultOK, 10*time.Millisecond)
	m.ObserveFetch("other.example.com", fetch.ResultOK, 20*time.Millisecond)
	m.ObserveFetch("ads.example.com", fetch.ResultStatus, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues(fetch.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchesTotal.WithLabelValues(fetch.ResultStatus)))
}

func TestObserveBreakerState(t *testing.T) {
	m := newTestMetrics(t)
	host := "ads.example.com"

	m.ObserveBreakerState(host, fetch.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitState.WithLabelValues(host)))

	m.ObserveBreakerState(host, fetch.StateHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitState.WithLabelValues(host)))

	m.ObserveBreakerState(host, fetch.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitState.WithLabelValues(host)))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitStateChanges.WithLabelValues(fetch.StateOpen)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitStateChanges.WithLabelValues(fetch.StateClosed)))
}

func TestRecordCacheLookup(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")))
}

func TestMiddleware(t *testing.T) {
	m := newTestMetrics(t)

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsInFlight))
		w.WriteHeader(http.StatusBadRequest)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/adtag/resolve?url=x", nil))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/adtag/resolve", "400")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test_handler", reg)
	m.IncAuthFailures()

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "test_handler_auth_failures_total 1"))
}

func TestNewMetrics_DefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("", reg)
	m.IncAuthFailures()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "adtag_auth_failures_total")
}

func TestImplementsObservers(t *testing.T) {
	var _ adtag.Recorder = (*Metrics)(nil)
	var _ fetch.Observer = (*Metrics)(nil)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"resolve endpoint", "/adtag/resolve", "/adtag/resolve"},
		{"resolve with slash", "/adtag/resolve/", "/adtag/resolve"},
		{"adtag prefix", "/adtag/other", "/adtag/*"},
		{"health check", "/health", "/health"},
		{"healthz check", "/healthz", "/health"},
		{"ready check", "/health/ready", "/health/ready"},
		{"metrics endpoint", "/metrics", "/metrics"},
		{"root path", "", "/"},
		{"unknown endpoint", "/unknown/path", "/other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizePath(tt.path))
		})
	}
}
