// Package domain defines the core data model for the inventory watcher:
// listings, snapshots, change events, run records, and the store interfaces
// implemented by the persistence and cache layers.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ListingKey is the stable identifier for one vehicle listing. It is derived
// from the listing title and the dealer stock number and joins records of the
// same vehicle across snapshots.
type ListingKey string

// Money is a vehicle price in whole Canadian dollars. Source pages never
// display cents, so fractional amounts are not represented.
type Money int64

// String formats the amount the way the dealership site displays it,
// e.g. "24 995 $".
func (m Money) String() string {
	s := fmt.Sprintf("%d", int64(m))
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String() + " $"
}

// ListingRecord is one vehicle as observed at scrape time. Records are
// immutable values; every scrape produces fresh records.
type ListingRecord struct {
	Key        ListingKey
	Stock      string
	VIN        string
	Title      string
	Price      Money
	MileageKM  int64
	PhotoURLs  []string
	SourceURL  string
	ObservedAt time.Time
}

// Snapshot maps every currently listed vehicle by its key. Exactly one
// snapshot is current at any time; the engine never mutates one in place.
type Snapshot map[ListingKey]ListingRecord

// Keys returns the snapshot's listing keys in unspecified order.
func (s Snapshot) Keys() []ListingKey {
	keys := make([]ListingKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// MakeListingKey builds the canonical key for a listing from its title and
// stock number: a lowercased, hyphenated slug suffixed with the stock number.
func MakeListingKey(title, stock string) ListingKey {
	base := strings.ToLower(strings.TrimSpace(title))
	base = nonAlnum.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	stock = strings.ToLower(strings.TrimSpace(stock))
	return ListingKey(base + "-" + stock)
}
