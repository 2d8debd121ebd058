package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Load returns the last-committed snapshot. An empty table yields an empty
// snapshot, which is the first-run baseline.
func (s *SnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	const query = `
		SELECT listing_key, stock, vin, title, price, mileage_km, photo_urls, source_url, observed_at
		FROM inventory_snapshot`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: load snapshot: %w", err)
	}
	defer rows.Close()

	snap := domain.Snapshot{}
	for rows.Next() {
		var rec domain.ListingRecord
		var photosJSON []byte

		if err := rows.Scan(&rec.Key, &rec.Stock, &rec.VIN, &rec.Title, &rec.Price,
			&rec.MileageKM, &photosJSON, &rec.SourceURL, &rec.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot row: %w", err)
		}
		if len(photosJSON) > 0 {
			if err := json.Unmarshal(photosJSON, &rec.PhotoURLs); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal photo urls for %s: %w", rec.Key, err)
			}
		}
		snap[rec.Key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load snapshot rows: %w", err)
	}
	return snap, nil
}

// Commit atomically replaces the stored snapshot and closes the run record
// in one transaction. If any statement fails, nothing is visible to the next
// run: the previous snapshot stays authoritative.
func (s *SnapshotStore) Commit(ctx context.Context, snap domain.Snapshot, run domain.RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin snapshot commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM inventory_snapshot`); err != nil {
		return fmt.Errorf("postgres: clear snapshot: %w", err)
	}

	const insert = `
		INSERT INTO inventory_snapshot
			(listing_key, stock, vin, title, price, mileage_km, photo_urls, source_url, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for _, rec := range snap {
		photosJSON, err := json.Marshal(rec.PhotoURLs)
		if err != nil {
			return fmt.Errorf("postgres: marshal photo urls for %s: %w", rec.Key, err)
		}
		if _, err := tx.Exec(ctx, insert,
			rec.Key, rec.Stock, rec.VIN, rec.Title, rec.Price,
			rec.MileageKM, photosJSON, rec.SourceURL, rec.ObservedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert snapshot row %s: %w", rec.Key, err)
		}
	}

	const closeRun = `
		UPDATE runs
		SET finished_at = $2, stage = $3, abort_reason = $4,
		    pages_fetched = $5, pages_failed = $6, listings = $7, scrape_error = $8
		WHERE id = $1`
	if _, err := tx.Exec(ctx, closeRun,
		run.ID, run.FinishedAt, run.Stage, run.AbortReason,
		run.Scrape.PagesFetched, run.Scrape.PagesFailed, run.Scrape.Listings, run.Scrape.Error,
	); err != nil {
		return fmt.Errorf("postgres: close run %s: %w", run.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit snapshot: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
