package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// summaryKey holds the JSON-encoded summary of the most recent run.
const summaryKey = "run:last_summary"

// summaryTTL keeps a stale summary from outliving its usefulness when the
// scheduler stops triggering runs.
const summaryTTL = 7 * 24 * time.Hour

// SummaryCache implements domain.SummaryCache using Redis.
type SummaryCache struct {
	rdb *redis.Client
}

// NewSummaryCache creates a SummaryCache backed by the given Client.
func NewSummaryCache(c *Client) *SummaryCache {
	return &SummaryCache{rdb: c.Underlying()}
}

// SetLast stores the summary of the run that just finished.
func (s *SummaryCache) SetLast(ctx context.Context, sum domain.Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("redis: marshal run summary: %w", err)
	}
	if err := s.rdb.Set(ctx, summaryKey, data, summaryTTL).Err(); err != nil {
		return fmt.Errorf("redis: set run summary: %w", err)
	}
	return nil
}

// GetLast returns the cached summary of the most recent run, or ErrNotFound.
func (s *SummaryCache) GetLast(ctx context.Context) (domain.Summary, error) {
	data, err := s.rdb.Get(ctx, summaryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Summary{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Summary{}, fmt.Errorf("redis: get run summary: %w", err)
	}

	var sum domain.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return domain.Summary{}, fmt.Errorf("redis: unmarshal run summary: %w", err)
	}
	return sum, nil
}

// Compile-time interface check.
var _ domain.SummaryCache = (*SummaryCache)(nil)
