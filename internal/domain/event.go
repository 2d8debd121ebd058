package domain

import "time"

// EventKind classifies a detected inventory transition.
type EventKind string

const (
	EventNew          EventKind = "NEW"
	EventSold         EventKind = "SOLD"
	EventPriceChanged EventKind = "PRICE_CHANGED"
)

// ChangeEvent is one detected transition for a single listing in a single
// run.
//
// Shape invariants:
//   - NEW: Before == nil, After != nil
//   - SOLD: Before != nil, After == nil
//   - PRICE_CHANGED: both set, Before.Price != After.Price
//
// A listing key produces at most one event per run.
type ChangeEvent struct {
	Kind       EventKind
	Key        ListingKey
	Before     *ListingRecord
	After      *ListingRecord
	DetectedAt time.Time
	RunID      string
}

// Record returns the listing record the event should act on: After when the
// vehicle is still listed, Before once it is gone.
func (e ChangeEvent) Record() *ListingRecord {
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// EnrichedEvent is a ChangeEvent with the generated ad text attached.
// Fallback reports whether the text came from the deterministic template
// instead of the text engine.
type EnrichedEvent struct {
	ChangeEvent
	Text     string
	Fallback bool
}

// PublishStatus is the terminal state of one publish attempt.
type PublishStatus string

const (
	PublishStatusPublished PublishStatus = "PUBLISHED"
	PublishStatusFailed    PublishStatus = "FAILED"
	PublishStatusSkipped   PublishStatus = "SKIPPED"
)

// PublishOutcome records the result of publishing one enriched event.
type PublishOutcome struct {
	Status         PublishStatus
	PostID         string
	PhotosAttached int
	Error          string
}
