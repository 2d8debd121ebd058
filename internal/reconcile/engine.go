// Package reconcile computes the change events between two inventory
// snapshots. The engine is a pure function: no I/O, no clock beyond the
// caller-supplied detection timestamp, deterministic output order.
package reconcile

import (
	"sort"
	"time"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// Diff compares the previous and current snapshots and returns the change
// events for this run.
//
// Rules:
//   - key only in current: NEW
//   - key only in previous: SOLD
//   - key in both with a different price: PRICE_CHANGED
//   - title or photo changes alone produce no event
//
// Events are ordered SOLD, PRICE_CHANGED, NEW, each group by key ascending,
// so identical inputs always yield an identical sequence.
func Diff(previous, current domain.Snapshot, runID string, detectedAt time.Time) []domain.ChangeEvent {
	var sold, changed, added []domain.ChangeEvent

	for key, before := range previous {
		if _, ok := current[key]; ok {
			continue
		}
		b := before
		sold = append(sold, domain.ChangeEvent{
			Kind:       domain.EventSold,
			Key:        key,
			Before:     &b,
			DetectedAt: detectedAt,
			RunID:      runID,
		})
	}

	for key, after := range current {
		before, ok := previous[key]
		if !ok {
			a := after
			added = append(added, domain.ChangeEvent{
				Kind:       domain.EventNew,
				Key:        key,
				After:      &a,
				DetectedAt: detectedAt,
				RunID:      runID,
			})
			continue
		}
		if before.Price != after.Price {
			b, a := before, after
			changed = append(changed, domain.ChangeEvent{
				Kind:       domain.EventPriceChanged,
				Key:        key,
				Before:     &b,
				After:      &a,
				DetectedAt: detectedAt,
				RunID:      runID,
			})
		}
	}

	byKey := func(events []domain.ChangeEvent) {
		sort.Slice(events, func(i, j int) bool {
			return events[i].Key < events[j].Key
		})
	}
	byKey(sold)
	byKey(changed)
	byKey(added)

	out := make([]domain.ChangeEvent, 0, len(sold)+len(changed)+len(added))
	out = append(out, sold...)
	out = append(out, changed...)
	out = append(out, added...)
	return out
}
