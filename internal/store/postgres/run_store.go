package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Begin inserts the open run record.
func (s *RunStore) Begin(ctx context.Context, run domain.RunRecord) error {
	const query = `
		INSERT INTO runs (id, started_at, stage)
		VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, run.ID, run.StartedAt, run.Stage); err != nil {
		return fmt.Errorf("postgres: begin run %s: %w", run.ID, err)
	}
	return nil
}

// AppendItem records one completed event outcome. The (run, key, kind)
// uniqueness constraint makes a duplicate append within a run an error
// rather than a silent double-publish record.
func (s *RunStore) AppendItem(ctx context.Context, runID string, item domain.RunItem) error {
	beforeJSON, err := marshalRecord(item.Event.Before)
	if err != nil {
		return fmt.Errorf("postgres: marshal before record: %w", err)
	}
	afterJSON, err := marshalRecord(item.Event.After)
	if err != nil {
		return fmt.Errorf("postgres: marshal after record: %w", err)
	}

	const query = `
		INSERT INTO run_items
			(run_id, event_kind, listing_key, before_record, after_record,
			 ad_text, text_fallback, publish_status, post_id, photos_attached,
			 publish_error, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := s.pool.Exec(ctx, query,
		runID, item.Event.Kind, item.Event.Key, beforeJSON, afterJSON,
		item.Text, item.TextFallback, item.Publish.Status, item.Publish.PostID,
		item.Publish.PhotosAttached, item.Publish.Error, item.CompletedAt,
	); err != nil {
		return fmt.Errorf("postgres: append run item %s/%s: %w", runID, item.Event.Key, err)
	}
	return nil
}

// Finish closes a run that did not reach the snapshot commit (aborted runs).
// Successful runs are closed inside SnapshotStore.Commit instead.
func (s *RunStore) Finish(ctx context.Context, run domain.RunRecord) error {
	const query = `
		UPDATE runs
		SET finished_at = $2, stage = $3, abort_reason = $4,
		    pages_fetched = $5, pages_failed = $6, listings = $7, scrape_error = $8
		WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, run.Stage, run.AbortReason,
		run.Scrape.PagesFetched, run.Scrape.PagesFailed, run.Scrape.Listings, run.Scrape.Error,
	); err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	return nil
}

// LoadLast returns the most recently started run with its items, for
// recovery diagnostics.
func (s *RunStore) LoadLast(ctx context.Context) (domain.RunRecord, error) {
	const query = `
		SELECT id, started_at, COALESCE(finished_at, started_at), stage, abort_reason,
		       pages_fetched, pages_failed, listings, scrape_error
		FROM runs
		ORDER BY started_at DESC
		LIMIT 1`

	var run domain.RunRecord
	err := s.pool.QueryRow(ctx, query).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Stage, &run.AbortReason,
		&run.Scrape.PagesFetched, &run.Scrape.PagesFailed, &run.Scrape.Listings, &run.Scrape.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RunRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("postgres: load last run: %w", err)
	}

	const itemsQuery = `
		SELECT event_kind, listing_key, before_record, after_record,
		       ad_text, text_fallback, publish_status, post_id, photos_attached,
		       publish_error, completed_at
		FROM run_items
		WHERE run_id = $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, itemsQuery, run.ID)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("postgres: load run items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.RunItem
		var beforeJSON, afterJSON []byte

		if err := rows.Scan(&item.Event.Kind, &item.Event.Key, &beforeJSON, &afterJSON,
			&item.Text, &item.TextFallback, &item.Publish.Status, &item.Publish.PostID,
			&item.Publish.PhotosAttached, &item.Publish.Error, &item.CompletedAt); err != nil {
			return domain.RunRecord{}, fmt.Errorf("postgres: scan run item: %w", err)
		}
		item.Event.RunID = run.ID
		if item.Event.Before, err = unmarshalRecord(beforeJSON); err != nil {
			return domain.RunRecord{}, fmt.Errorf("postgres: unmarshal before record: %w", err)
		}
		if item.Event.After, err = unmarshalRecord(afterJSON); err != nil {
			return domain.RunRecord{}, fmt.Errorf("postgres: unmarshal after record: %w", err)
		}
		run.Items = append(run.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.RunRecord{}, fmt.Errorf("postgres: load run items rows: %w", err)
	}
	return run, nil
}

func marshalRecord(rec *domain.ListingRecord) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}
	return json.Marshal(rec)
}

func unmarshalRecord(data []byte) (*domain.ListingRecord, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rec domain.ListingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)
