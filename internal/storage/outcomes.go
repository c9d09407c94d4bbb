package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/thenexusengine/tne_adtag/pkg/adtag"
	"github.com/thenexusengine/tne_adtag/pkg/vast"
)

// Schema creates the audit table
const Schema = `CREATE TABLE IF NOT EXISTS adtag_outcomes (
	id                 UUID PRIMARY KEY,
	url                TEXT NOT NULL,
	kind               TEXT NOT NULL,
	response_type      TEXT NOT NULL,
	reason             TEXT NOT NULL DEFAULT '',
	hops               INTEGER NOT NULL DEFAULT 0,
	break_kinds        TEXT[] NOT NULL DEFAULT '{}',
	selected_media_url TEXT NOT NULL DEFAULT '',
	error              TEXT NOT NULL DEFAULT '',
	duration_ms        BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// OutcomeRecord is one audit row
type OutcomeRecord struct {
	ID               uuid.UUID `json:"id"`
	URL              string    `json:"url"`
	Kind             string    `json:"kind"`
	ResponseType     string    `json:"response_type"`
	Reason           string    `json:"reason,omitempty"`
	Hops             int       `json:"hops"`
	BreakKinds       []string  `json:"break_kinds,omitempty"`
	SelectedMediaURL string    `json:"selected_media_url,omitempty"`
	Error            string    `json:"error,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewOutcomeRecord flattens an outcome into an audit row. Outcomes without a
// parseable ID get a fresh one.
func NewOutcomeRecord(outcome *adtag.Outcome, elapsed time.Duration, now time.Time) *OutcomeRecord {
	id, err := uuid.Parse(outcome.ID)
	if err != nil {
		id = uuid.New()
	}
	rec := &OutcomeRecord{
		ID:           id,
		URL:          outcome.URL,
		Kind:         outcome.Kind.String(),
		ResponseType: outcome.Type.String(),
		Hops:         outcome.Hops,
		BreakKinds:   make([]string, 0, len(outcome.Breaks)),
		DurationMs:   elapsed.Milliseconds(),
		CreatedAt:    now,
	}
	if outcome.Reason != vast.ReasonNone {
		rec.Reason = outcome.Reason.String()
	}
	if outcome.Model != nil {
		rec.SelectedMediaURL = outcome.Model.SelectedMediaURL
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	for _, b := range outcome.Breaks {
		kind := b.Kind.String()
		if b.Dropped {
			kind = "dropped"
		}
		rec.BreakKinds = append(rec.BreakKinds, kind)
	}
	return rec
}

// OutcomeStore reads and writes audit rows
type OutcomeStore struct {
	db *sql.DB
}

// NewOutcomeStore creates a store over db
func NewOutcomeStore(db *sql.DB) *OutcomeStore {
	return &OutcomeStore{db: db}
}

// EnsureSchema creates the audit table when missing
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create adtag_outcomes: %w", err)
	}
	return nil
}

// Insert writes one audit row
func (s *OutcomeStore) Insert(ctx context.Context, rec *OutcomeRecord) error {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	query := `
		INSERT INTO adtag_outcomes (
			id, url, kind, response_type, reason, hops, break_kinds,
			selected_media_url, error, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.URL,
		rec.Kind,
		rec.ResponseType,
		rec.Reason,
		rec.Hops,
		pq.Array(rec.BreakKinds),
		rec.SelectedMediaURL,
		rec.Error,
		rec.DurationMs,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the audit row for id, or nil when not found
func (s *OutcomeStore) Get(ctx context.Context, id uuid.UUID) (*OutcomeRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	query := `
		SELECT id, url, kind, response_type, reason, hops, break_kinds,
		       selected_media_url, error, duration_ms, created_at
		FROM adtag_outcomes
		WHERE id = $1
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	return rec, nil
}

// Recent returns the newest audit rows, newest first
func (s *OutcomeStore) Recent(ctx context.Context, limit int) ([]*OutcomeRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	query := `
		SELECT id, url, kind, response_type, reason, hops, break_kinds,
		       selected_media_url, error, duration_ms, created_at
		FROM adtag_outcomes
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var records []*OutcomeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return records, nil
}

// CountByKind returns the number of outcomes per kind since the given time
func (s *OutcomeStore) CountByKind(ctx context.Context, since time.Time) (map[string]int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultDBTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, COUNT(*) FROM adtag_outcomes WHERE created_at >= $1 GROUP BY kind`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*OutcomeRecord, error) {
	var rec OutcomeRecord
	err := row.Scan(
		&rec.ID,
		&rec.URL,
		&rec.Kind,
		&rec.ResponseType,
		&rec.Reason,
		&rec.Hops,
		pq.Array(&rec.BreakKinds),
		&rec.SelectedMediaURL,
		&rec.Error,
		&rec.DurationMs,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
