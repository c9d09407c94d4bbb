package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/logger"
)

// DefaultAuditBuffer is the number of outcomes queued before new ones are dropped
const DefaultAuditBuffer = 1024

// AuditRecorder writes outcomes to an OutcomeStore from a background worker so
// database latency never reaches the resolve path. Implements adtag.Recorder.
type AuditRecorder struct {
	store   *OutcomeStore
	queue   chan *OutcomeRecord
	log     zerolog.Logger
	now     func() time.Time
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewAuditRecorder starts the background writer
func NewAuditRecorder(store *OutcomeStore, buffer int) *AuditRecorder {
	if buffer <= 0 {
		buffer = DefaultAuditBuffer
	}
	r := &AuditRecorder{
		store: store,
		queue: make(chan *OutcomeRecord, buffer),
		log:   logger.Log.With().Str("component", "audit").Logger(),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe queues outcome for writing. When the queue is full the outcome is
// dropped and counted.
func (r *AuditRecorder) Observe(outcome *adtag.Outcome, elapsed time.Duration) {
	if outcome == nil {
		return
	}
	rec := NewOutcomeRecord(outcome, elapsed, r.now())
	select {
	case r.queue <- rec:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.log.Warn().Int64("dropped", r.dropped.Load()).Msg("audit queue full, dropping outcomes")
		}
	}
}

// Dropped returns the number of outcomes dropped on a full queue
func (r *AuditRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *AuditRecorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		if err := r.store.Insert(context.Background(), rec); err != nil {
			r.log.Error().Err(err).Str("outcome_id", rec.ID.String()).Msg("failed to write audit record")
		}
	}
}

// Close stops accepting outcomes and waits for queued writes. Observe must
// not be called after Close.
func (r *AuditRecorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
	})
	<-r.done
}
