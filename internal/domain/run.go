package domain

import "time"

// RunStage is the state-machine position of a run.
type RunStage string

const (
	StageScraping   RunStage = "SCRAPING"
	StageDiffing    RunStage = "DIFFING"
	StageEnriching  RunStage = "ENRICHING"
	StagePublishing RunStage = "PUBLISHING"
	StagePersisting RunStage = "PERSISTING"
	StageDone       RunStage = "DONE"
	StageAborted    RunStage = "ABORTED"
)

// ScrapeOutcome summarizes the scrape step of one run.
type ScrapeOutcome struct {
	PagesFetched int
	PagesFailed  int
	Listings     int
	Error        string
}

// RunItem is the recorded outcome for one event within a run. Items are
// appended as each event completes, so a crash mid-run leaves an accurate
// partial record.
type RunItem struct {
	Event        ChangeEvent
	Text         string
	TextFallback bool
	Publish      PublishOutcome
	CompletedAt  time.Time
}

// RunRecord is one execution of the pipeline, created at orchestration start
// and closed at run end. It serves both audit and retry idempotency.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Stage       RunStage
	AbortReason string
	Scrape      ScrapeOutcome
	Items       []RunItem
}

// Summary holds the per-kind and per-outcome counts reported at run end.
type Summary struct {
	RunID        string
	Stage        RunStage
	AbortReason  string
	New          int
	Sold         int
	PriceChanged int
	Published    int
	PublishFails int
	TextFallback int
	Duration     time.Duration
}

// Summarize computes the run summary from a closed RunRecord.
func (r RunRecord) Summarize() Summary {
	s := Summary{
		RunID:       r.ID,
		Stage:       r.Stage,
		AbortReason: r.AbortReason,
		Duration:    r.FinishedAt.Sub(r.StartedAt),
	}
	for _, it := range r.Items {
		switch it.Event.Kind {
		case EventNew:
			s.New++
		case EventSold:
			s.Sold++
		case EventPriceChanged:
			s.PriceChanged++
		}
		switch it.Publish.Status {
		case PublishStatusPublished:
			s.Published++
		case PublishStatusFailed:
			s.PublishFails++
		}
		if it.TextFallback {
			s.TextFallback++
		}
	}
	return s
}

// PostStatus is the lifecycle state of a Facebook post tracked for a listing.
type PostStatus string

const (
	PostStatusActive PostStatus = "ACTIVE"
	PostStatusSold   PostStatus = "SOLD"
)

// PostRecord tracks the social post published for one listing. It is the
// idempotency ledger: a NEW event for a key that already has an active post
// updates that post instead of creating a duplicate.
type PostRecord struct {
	Key    ListingKey
	PostID string
	Status PostStatus
	// BaseText is the last clean ad text published to the post, kept so the
	// sold banner can be prepended to it and so an unsold repair can restore
	// the original text.
	BaseText      string
	PublishedAt   time.Time
	SoldAt        *time.Time
	LastUpdatedAt time.Time
}
