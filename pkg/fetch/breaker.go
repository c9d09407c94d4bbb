package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thenexusengine/tne_adtag/pkg/logger"
)

// Circuit breaker states
const (
	StateClosed   = "closed"    // requests flow
	StateOpen     = "open"      // requests are rejected
	StateHalfOpen = "half-open" // one trial request at a time
)

// ErrCircuitOpen is returned when a host's breaker rejects a fetch
var ErrCircuitOpen = errors.New("circuit breaker is open")

// callbackTimeout bounds how long a state change callback may run
const callbackTimeout = 5 * time.Second

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // trial successes needed to close again
	Timeout          time.Duration // time spent open before trialing
	OnStateChange    func(host, from, to string)
}

// DefaultBreakerConfig returns the settings used for ad servers
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// Breaker is a circuit breaker guarding one ad server host
type Breaker struct {
	host   string
	config BreakerConfig

	mu              sync.Mutex
	state           string
	failures        int
	successes       int
	trialing        bool
	lastFailureTime time.Time

	totalRequests int64
	totalFailures int64
	totalRejected int64

	callbackWg sync.WaitGroup
}

// NewBreaker creates a closed breaker for host
func NewBreaker(host string, config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultBreakerConfig().Timeout
	}
	return &Breaker{host: host, config: config, state: StateClosed}
}

// Execute runs fn unless the breaker is open. fn's error counts as a failure.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailureTime) <= b.config.Timeout {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.setState(StateHalfOpen)
		b.trialing = true
		return nil
	case StateHalfOpen:
		if b.trialing {
			b.totalRejected++
			return ErrCircuitOpen
		}
		b.trialing = true
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialing = false
	if err != nil {
		b.recordFailure()
		return
	}
	b.recordSuccess()
}

func (b *Breaker) recordFailure() {
	b.totalFailures++
	b.failures++
	b.successes = 0
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.successes++
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		if b.successes >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.failures = 0
		}
	}
}

// setState must be called with mu held. The callback runs on its own
// goroutine so a slow observer cannot stall fetches.
func (b *Breaker) setState(state string) {
	if b.state == state {
		return
	}
	from := b.state
	b.state = state
	b.successes = 0

	if b.config.OnStateChange == nil {
		return
	}
	b.callbackWg.Add(1)
	go func(host, from, to string) {
		defer b.callbackWg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Log.Error().Interface("panic", r).Str("host", host).Msg("breaker state callback panicked")
				}
				close(done)
			}()
			b.config.OnStateChange(host, from, to)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			logger.Log.Warn().Str("host", host).Str("from", from).Str("to", to).Msg("breaker state callback timed out")
		}
	}(b.host, from, state)
}

// State returns the current state
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats is a snapshot of breaker counters
type BreakerStats struct {
	Host          string `json:"host"`
	State         string `json:"state"`
	TotalRequests int64  `json:"total_requests"`
	TotalFailures int64  `json:"total_failures"`
	TotalRejected int64  `json:"total_rejected"`
	Failures      int    `json:"current_failures"`
}

// Stats returns a snapshot of the breaker's counters
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Host:          b.host,
		State:         b.state,
		TotalRequests: b.totalRequests,
		TotalFailures: b.totalFailures,
		TotalRejected: b.totalRejected,
		Failures:      b.failures,
	}
}

// ForceOpen opens the breaker now
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateOpen)
	b.lastFailureTime = time.Now()
}

// Reset closes the breaker and clears its failure count
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.failures = 0
	b.trialing = false
}

// Close waits for pending state change callbacks
func (b *Breaker) Close() {
	b.callbackWg.Wait()
}
