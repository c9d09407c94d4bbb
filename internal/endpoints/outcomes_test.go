package endpoints

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thenexusengine/tne_adtag/internal/storage"
)

var outcomeColumns = []string{
	"id", "url", "kind", "response_type", "reason", "hops", "break_kinds",
	"selected_media_url", "error", "duration_ms", "created_at",
}

func newOutcomeHandler(t *testing.T) (*OutcomeHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewOutcomeHandler(storage.NewOutcomeStore(db)), mock
}

func TestOutcomeHandler_List(t *testing.T) {
	h, mock := newOutcomeHandler(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM adtag_outcomes ORDER BY").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(outcomeColumns).
			AddRow(id.String(), "https://ads.example.com/vast", "valid", "ad", "", 2, "{valid}", "m", "", int64(12), time.Now()))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/adtag/outcomes?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var records []storage.OutcomeRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].ID)
	assert.Equal(t, "valid", records[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutcomeHandler_ListEmpty(t *testing.T) {
	h, mock := newOutcomeHandler(t)
	mock.ExpectQuery("SELECT (.+) FROM adtag_outcomes").WillReturnRows(sqlmock.NewRows(outcomeColumns))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/adtag/outcomes", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestOutcomeHandler_GetByID(t *testing.T) {
	h, mock := newOutcomeHandler(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM adtag_outcomes WHERE id").
		WillReturnRows(sqlmock.NewRows(outcomeColumns))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/adtag/outcomes?id="+id.String(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOutcomeHandler_BadRequests(t *testing.T) {
	h, _ := newOutcomeHandler(t)

	for _, target := range []string{"/adtag/outcomes?id=nope", "/adtag/outcomes?limit=0", "/adtag/outcomes?limit=abc"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/adtag/outcomes", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
