package domain

import (
	"context"
	"io"
	"time"
)

// SnapshotStore owns the current inventory snapshot. Load returns the
// last-committed snapshot (empty on first run). Commit atomically replaces
// the snapshot and closes the given run record: either both are visible to
// the next run or neither is.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Commit(ctx context.Context, snap Snapshot, run RunRecord) error
}

// RunStore persists run records for audit and recovery diagnostics. Begin
// inserts the open record, AppendItem records one event outcome as it
// completes, and Finish closes an aborted run (successful runs are closed by
// SnapshotStore.Commit).
type RunStore interface {
	Begin(ctx context.Context, run RunRecord) error
	AppendItem(ctx context.Context, runID string, item RunItem) error
	Finish(ctx context.Context, run RunRecord) error
	LoadLast(ctx context.Context) (RunRecord, error)
}

// PostStore persists the per-listing post ledger used for publish
// idempotency across runs.
type PostStore interface {
	Get(ctx context.Context, key ListingKey) (PostRecord, error)
	Upsert(ctx context.Context, rec PostRecord) error
	ListActive(ctx context.Context) ([]PostRecord, error)
}

// LockManager provides the distributed lock that serializes runs. Acquire
// returns ErrLockHeld when another run is in progress.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SummaryCache caches the latest run summary for cheap operator lookup.
type SummaryCache interface {
	SetLast(ctx context.Context, s Summary) error
	GetLast(ctx context.Context) (Summary, error)
}

// BlobWriter uploads raw scrape artifacts and reports to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves archived artifacts.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}
