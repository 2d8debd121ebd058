package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// PostStore implements domain.PostStore using PostgreSQL.
type PostStore struct {
	pool *pgxpool.Pool
}

// NewPostStore creates a new PostStore backed by the given pool.
func NewPostStore(pool *pgxpool.Pool) *PostStore {
	return &PostStore{pool: pool}
}

// Get returns the post ledger entry for a listing key, or ErrNotFound.
func (s *PostStore) Get(ctx context.Context, key domain.ListingKey) (domain.PostRecord, error) {
	const query = `
		SELECT listing_key, post_id, status, base_text, published_at, sold_at, last_updated_at
		FROM posts
		WHERE listing_key = $1`

	var rec domain.PostRecord
	var publishedAt *time.Time
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key, &rec.PostID, &rec.Status, &rec.BaseText, &publishedAt, &rec.SoldAt, &rec.LastUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PostRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PostRecord{}, fmt.Errorf("postgres: get post %s: %w", key, err)
	}
	if publishedAt != nil {
		rec.PublishedAt = *publishedAt
	}
	return rec, nil
}

// Upsert writes or replaces the ledger entry for a listing key.
func (s *PostStore) Upsert(ctx context.Context, rec domain.PostRecord) error {
	const query = `
		INSERT INTO posts (listing_key, post_id, status, base_text, published_at, sold_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (listing_key) DO UPDATE SET
			post_id = EXCLUDED.post_id,
			status = EXCLUDED.status,
			base_text = CASE WHEN EXCLUDED.base_text = '' THEN posts.base_text ELSE EXCLUDED.base_text END,
			published_at = COALESCE(posts.published_at, EXCLUDED.published_at),
			sold_at = EXCLUDED.sold_at,
			last_updated_at = EXCLUDED.last_updated_at`
	if _, err := s.pool.Exec(ctx, query,
		rec.Key, rec.PostID, rec.Status, rec.BaseText, nullTime(rec.PublishedAt), rec.SoldAt, rec.LastUpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert post %s: %w", rec.Key, err)
	}
	return nil
}

// ListActive returns every ledger entry still marked ACTIVE.
func (s *PostStore) ListActive(ctx context.Context) ([]domain.PostRecord, error) {
	const query = `
		SELECT listing_key, post_id, status, base_text, published_at, sold_at, last_updated_at
		FROM posts
		WHERE status = $1
		ORDER BY listing_key`

	rows, err := s.pool.Query(ctx, query, domain.PostStatusActive)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active posts: %w", err)
	}
	defer rows.Close()

	var out []domain.PostRecord
	for rows.Next() {
		var rec domain.PostRecord
		var publishedAt *time.Time
		if err := rows.Scan(&rec.Key, &rec.PostID, &rec.Status, &rec.BaseText,
			&publishedAt, &rec.SoldAt, &rec.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan post row: %w", err)
		}
		if publishedAt != nil {
			rec.PublishedAt = *publishedAt
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active posts rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.PostStore = (*PostStore)(nil)
