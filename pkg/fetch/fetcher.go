// Package fetch retrieves ad documents over HTTP with a timeout, a body size
// cap and a circuit breaker per ad server host.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adtag/pkg/logger"
)

// Defaults for Config
const (
	DefaultTimeout          = 5 * time.Second
	DefaultMaxDocumentBytes = 2 * 1024 * 1024
	DefaultUserAgent        = "tne-adtag/1.0"
	DefaultMaxBreakers      = 1024
	CorrelatorParam         = "correlator"
)

// ErrBodyTooLarge is returned when a document exceeds the size cap
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// StatusError reports a non-2xx response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Observer receives fetch and breaker events, e.g. for metrics
type Observer interface {
	ObserveFetch(host, result string, elapsed time.Duration)
	ObserveBreakerState(host, state string)
}

// Fetch results reported to Observer
const (
	ResultOK          = "ok"
	ResultError       = "error"
	ResultStatus      = "status"
	ResultTooLarge    = "too_large"
	ResultCircuitOpen = "circuit_open"
	ResultBlocked     = "blocked"
)

// Config holds HTTP fetcher settings
type Config struct {
	Timeout          time.Duration
	MaxDocumentBytes int64
	UserAgent        string
	// Correlator adds a cache-busting correlator=<unix millis> parameter
	Correlator bool
	Breaker    BreakerConfig
	// MaxBreakers caps the per-host breaker table. The least recently used
	// closed breaker is evicted first.
	MaxBreakers int
	// AllowPrivateNetworks permits loopback, private and link-local targets
	AllowPrivateNetworks bool
	Observer             Observer
	Logger               *zerolog.Logger
	// Client overrides the HTTP client; Timeout and the address guard are
	// ignored when set
	Client *http.Client
}

// HTTPFetcher fetches documents over HTTP. It is safe for concurrent use.
type HTTPFetcher struct {
	client   *http.Client
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
	mu       sync.Mutex
	breakers map[string]*hostBreaker
}

type hostBreaker struct {
	*Breaker
	lastUsed time.Time
}

// New creates an HTTPFetcher
func New(cfg Config) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBreakers <= 0 {
		cfg.MaxBreakers = DefaultMaxBreakers
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newTransport(cfg.AllowPrivateNetworks),
		}
	}
	log := logger.Log
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	f := &HTTPFetcher{
		client:   client,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		breakers: make(map[string]*hostBreaker),
	}
	userCallback := cfg.Breaker.OnStateChange
	f.cfg.Breaker.OnStateChange = func(host, from, to string) {
		f.log.Warn().Str("host", host).Str("from", from).Str("to", to).Msg("ad server circuit breaker state changed")
		if f.cfg.Observer != nil {
			f.cfg.Observer.ObserveBreakerState(host, to)
		}
		if userCallback != nil {
			userCallback(host, from, to)
		}
	}
	return f
}

// Fetch retrieves rawURL. Transport errors and 5xx responses count against
// the host's circuit breaker; 4xx responses and blocked addresses do not.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ad tag url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid ad tag url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid ad tag url: missing host")
	}
	if f.cfg.Correlator {
		// append only, so publisher macros in the query are sent untouched
		param := CorrelatorParam + "=" + strconv.FormatInt(f.now().UnixMilli(), 10)
		if u.RawQuery == "" {
			u.RawQuery = param
		} else {
			u.RawQuery += "&" + param
		}
	}

	host := u.Host
	start := time.Now()
	var body []byte
	var clientErr error

	err = f.breaker(host).Execute(func() error {
		var ferr error
		body, ferr = f.do(ctx, u.String())
		var serr *StatusError
		if errors.As(ferr, &serr) && serr.Code < 500 {
			clientErr = ferr
			return nil
		}
		if errors.Is(ferr, ErrBlockedAddress) {
			clientErr = ferr
			return nil
		}
		return ferr
	})
	if err == nil {
		err = clientErr
	}

	f.observe(host, err, time.Since(start))
	if err != nil {
		f.log.Debug().Err(err).Str("url", rawURL).Msg("ad document fetch failed")
		return nil, err
	}
	return body, nil
}

func (f *HTTPFetcher) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.cfg.MaxDocumentBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func (f *HTTPFetcher) observe(host string, err error, elapsed time.Duration) {
	if f.cfg.Observer == nil {
		return
	}
	var serr *StatusError
	result := ResultOK
	switch {
	case err == nil:
	case errors.Is(err, ErrCircuitOpen):
		result = ResultCircuitOpen
	case errors.Is(err, ErrBlockedAddress):
		result = ResultBlocked
	case errors.Is(err, ErrBodyTooLarge):
		result = ResultTooLarge
	case errors.As(err, &serr):
		result = ResultStatus
	default:
		result = ResultError
	}
	f.cfg.Observer.ObserveFetch(host, result, elapsed)
}

func (f *HTTPFetcher) breaker(host string) *Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	hb, ok := f.breakers[host]
	if !ok {
		if len(f.breakers) >= f.cfg.MaxBreakers {
			f.evictLocked()
		}
		hb = &hostBreaker{Breaker: NewBreaker(host, f.cfg.Breaker)}
		f.breakers[host] = hb
	}
	hb.lastUsed = now
	return hb.Breaker
}

// evictLocked drops the least recently used breaker, preferring closed ones
// so an open circuit is not forgotten while hosts are still failing.
func (f *HTTPFetcher) evictLocked() {
	var victim, closedVictim string
	var oldest, oldestClosed time.Time
	for host, hb := range f.breakers {
		if victim == "" || hb.lastUsed.Before(oldest) {
			victim, oldest = host, hb.lastUsed
		}
		if hb.State() == StateClosed && (closedVictim == "" || hb.lastUsed.Before(oldestClosed)) {
			closedVictim, oldestClosed = host, hb.lastUsed
		}
	}
	if closedVictim != "" {
		victim = closedVictim
	}
	delete(f.breakers, victim)
}

// BreakerStats returns a snapshot of every host breaker
func (f *HTTPFetcher) BreakerStats() []BreakerStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := make([]BreakerStats, 0, len(f.breakers))
	for _, hb := range f.breakers {
		stats = append(stats, hb.Stats())
	}
	return stats
}

// Close waits for pending breaker callbacks
func (f *HTTPFetcher) Close() {
	f.mu.Lock()
	breakers := make([]*Breaker, 0, len(f.breakers))
	for _, hb := range f.breakers {
		breakers = append(breakers, hb.Breaker)
	}
	f.mu.Unlock()
	for _, b := range breakers {
		b.Close()
	}
}
