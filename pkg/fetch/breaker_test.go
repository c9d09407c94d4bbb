package fetch

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func succeeding() error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("ads.example.com", BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(failing), errBoom)
	}
	assert.Equal(t, StateClosed, b.State())

	// a success resets the consecutive count
	require.NoError(t, b.Execute(succeeding))
	for i := 0; i < 3; i++ {
		_ = b.Execute(failing)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := b.Stats()
	assert.Equal(t, "ads.example.com", stats.Host)
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.Equal(t, int64(5), stats.TotalFailures)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := NewBreaker("h", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	_ = b.Execute(failing)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Execute(succeeding))
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("h", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})

	_ = b.Execute(failing)
	time.Sleep(20 * time.Millisecond)

	assert.ErrorIs(t, b.Execute(failing), errBoom)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenAllowsOneTrial(t *testing.T) {
	b := NewBreaker("h", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})
	_ = b.Execute(failing)
	time.Sleep(20 * time.Millisecond)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(func() error {
			close(inTrial)
			<-release
			return nil
		})
	}()

	<-inTrial
	assert.ErrorIs(t, b.Execute(succeeding), ErrCircuitOpen)
	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CallbackPanicRecovery(t *testing.T) {
	var called atomic.Bool
	b := NewBreaker("h", BreakerConfig{
		OnStateChange: func(host, from, to string) {
			called.Store(true)
			panic("callback panic")
		},
	})

	b.ForceOpen()
	b.Close()

	assert.True(t, called.Load())
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CallbackReceivesTransition(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	b := NewBreaker("ads.example.com", BreakerConfig{
		FailureThreshold: 1,
		OnStateChange: func(host, from, to string) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, host+":"+from+"->"+to)
		},
	})

	_ = b.Execute(failing)
	b.Reset()
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{
		"ads.example.com:closed->open",
		"ads.example.com:open->closed",
	}, transitions)
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker("h", BreakerConfig{})
	assert.Equal(t, DefaultBreakerConfig().FailureThreshold, b.config.FailureThreshold)
	assert.Equal(t, DefaultBreakerConfig().Timeout, b.config.Timeout)
}
