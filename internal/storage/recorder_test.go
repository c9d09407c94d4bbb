package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
)

func TestAuditRecorder_WritesQueuedOutcomes(t *testing.T) {
	store, mock := newMockStore(t)

	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO adtag_outcomes").WillReturnResult(sqlmock.NewResult(0, 1))
	}

	r := NewAuditRecorder(store, 10)
	for i := 0; i < 3; i++ {
		r.Observe(&adtag.Outcome{ID: uuid.NewString(), Kind: adtag.Valid}, time.Millisecond)
	}
	r.Observe(nil, 0)
	r.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Zero(t, r.Dropped())
}

func TestAuditRecorder_InsertErrorsDoNotStopWorker(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO adtag_outcomes").WillReturnError(assert.AnError)
	mock.ExpectExec("INSERT INTO adtag_outcomes").WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewAuditRecorder(store, 10)
	r.Observe(&adtag.Outcome{Kind: adtag.FetchFailure}, 0)
	r.Observe(&adtag.Outcome{Kind: adtag.Valid}, 0)
	r.Close()

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRecorder_DropsWhenFull(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO adtag_outcomes").
		WillDelayFor(100 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO adtag_outcomes").WillReturnResult(sqlmock.NewResult(0, 1))

	r := NewAuditRecorder(store, 1)
	r.Observe(&adtag.Outcome{Kind: adtag.Valid}, 0)
	// wait for the worker to take the first record
	require.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, time.Millisecond)

	r.Observe(&adtag.Outcome{Kind: adtag.Valid}, 0)
	r.Observe(&adtag.Outcome{Kind: adtag.Valid}, 0)
	r.Close()

	assert.Equal(t, int64(1), r.Dropped())
}
