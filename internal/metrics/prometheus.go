// Package metrics provides Prometheus metrics for ad tag resolution
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/fetch"
	"github.com/thenexusengine/tne_adtag/pkg/vast"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Resolution metrics
	ResolutionsTotal   *prometheus.CounterVec
	ResolutionDuration *prometheus.HistogramVec
	WrapperHops        prometheus.Histogram
	AdBreaksTotal      *prometheus.CounterVec
	InvalidReasons     *prometheus.CounterVec
	DroppedEvents      prometheus.Counter

	// Fetch metrics
	FetchesTotal  *prometheus.CounterVec
	FetchLatency  prometheus.Histogram
	CacheRequests *prometheus.CounterVec

	// Ad server circuit breaker metrics
	CircuitState        *prometheus.GaugeVec   // Current state per host (0=closed, 1=open, 2=half-open)
	CircuitStateChanges *prometheus.CounterVec // Transitions by target state

	AuthFailures prometheus.Counter
}

// NewMetrics creates metrics and registers them with reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "adtag"
	}

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
		),

		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of ad tag resolutions by outcome",
			},
			[]string{"kind", "type"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Ad tag resolution duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"type"},
		),
		WrapperHops: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "documents_fetched",
				Help:      "Documents fetched per resolution",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
			},
		),
		AdBreaksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ad_breaks_total",
				Help:      "Ad breaks processed by outcome",
			},
			[]string{"kind"},
		),
		InvalidReasons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_responses_total",
				Help:      "Responses rejected by validation, by reason",
			},
			[]string{"reason"},
		),
		DroppedEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracking_events_dropped_total",
				Help:      "Tracking elements skipped for a missing or unknown event name",
			},
		),

		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Ad document fetches by result",
			},
			[]string{"result"},
		),
		FetchLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Ad document fetch latency in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		CacheRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "document_cache_requests_total",
				Help:      "Document cache lookups by result",
			},
			[]string{"result"},
		),

		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ad_server_circuit_state",
				Help:      "Ad server circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"host"},
		),
		CircuitStateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ad_server_circuit_state_changes_total",
				Help:      "Ad server circuit breaker transitions by target state",
			},
			[]string{"to"},
		),

		AuthFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.WrapperHops,
		m.AdBreaksTotal,
		m.InvalidReasons,
		m.DroppedEvents,
		m.FetchesTotal,
		m.FetchLatency,
		m.CacheRequests,
		m.CircuitState,
		m.CircuitStateChanges,
		m.AuthFailures,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// normalizePath maps URL paths to known routes to keep label cardinality bounded
func normalizePath(path string) string {
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}

	switch path {
	case "/adtag/resolve":
		return "/adtag/resolve"
	case "/health", "/healthz":
		return "/health"
	case "/health/ready":
		return "/health/ready"
	case "/metrics":
		return "/metrics"
	case "":
		return "/"
	}

	if strings.HasPrefix(path, "/adtag/") {
		return "/adtag/*"
	}
	return "/other"
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := normalizePath(r.URL.Path)
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Observe records a finished resolution. Implements adtag.Recorder.
func (m *Metrics) Observe(outcome *adtag.Outcome, elapsed time.Duration) {
	if outcome == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome.Kind.String(), outcome.Type.String()).Inc()
	m.ResolutionDuration.WithLabelValues(outcome.Type.String()).Observe(elapsed.Seconds())
	m.WrapperHops.Observe(float64(outcome.Hops))

	if outcome.Reason != vast.ReasonNone {
		m.InvalidReasons.WithLabelValues(outcome.Reason.String()).Inc()
	}
	if outcome.Type == adtag.ManifestResponse {
		for _, b := range outcome.Breaks {
			kind := b.Kind.String()
			if b.Dropped {
				kind = "dropped"
			}
			m.AdBreaksTotal.WithLabelValues(kind).Inc()
		}
	}
	if n := outcome.DroppedEvents(); n > 0 {
		m.DroppedEvents.Add(float64(n))
	}
}

// ObserveFetch records one ad document fetch. Implements fetch.Observer.
// The host is not used as a label to bound cardinality.
func (m *Metrics) ObserveFetch(host, result string, elapsed time.Duration) {
	m.FetchesTotal.WithLabelValues(result).Inc()
	m.FetchLatency.Observe(elapsed.Seconds())
}

// ObserveBreakerState sets the circuit breaker state for host. Implements
// fetch.Observer.
func (m *Metrics) ObserveBreakerState(host, state string) {
	var value float64
	switch state {
	case fetch.StateClosed:
		value = 0
	case fetch.StateOpen:
		value = 1
	case fetch.StateHalfOpen:
		value = 2
	}
	m.CircuitState.WithLabelValues(host).Set(value)
	m.CircuitStateChanges.WithLabelValues(state).Inc()
}

// RecordCacheLookup records a document cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// IncAuthFailures increments the auth failures counter.
// Implements middleware.AuthMetrics.
func (m *Metrics) IncAuthFailures() {
	m.AuthFailures.Inc()
}
