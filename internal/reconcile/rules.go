package reconcile

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/desertthunder/reelsync/internal/models"
)

// RatingConflicts finds IDs rated on both sides with different values.
//
// When the two ratings fall on different calendar days, the later one is
// scheduled onto the other side. Same-day conflicts produce nothing.
func RatingConflicts(primary, secondary models.Snapshot) (toPrimary, toSecondary []models.Record) {
	prim := primary.Index()
	for _, s := range Dedup(secondary.Records()) {
		p, ok := prim[s.ExternalID]
		if !ok || !s.Resolvable() || p.Value.Rating == s.Value.Rating {
			continue
		}
		if models.SameDay(p.AddedAt, s.AddedAt) {
			continue
		}
		if s.AddedAt.After(p.AddedAt) {
			toPrimary = append(toPrimary, s)
		} else {
			toSecondary = append(toSecondary, p)
		}
	}
	return toPrimary, toSecondary
}

// LongReviews drops reviews whose text is shorter than minLen characters.
func LongReviews(records []models.Record, minLen int) []models.Record {
	if minLen <= 0 {
		return records
	}
	var out []models.Record
	for _, r := range records {
		if utf8.RuneCountInString(strings.TrimSpace(r.Value.Review.Text)) >= minLen {
			out = append(out, r)
		}
	}
	return out
}

// WithoutShows drops show records.
func WithoutShows(records []models.Record) []models.Record {
	var out []models.Record
	for _, r := range records {
		if r.Kind != models.KindShow {
			out = append(out, r)
		}
	}
	return out
}

// Without drops records whose ID is in ids.
func Without(records []models.Record, ids map[string]struct{}) []models.Record {
	var out []models.Record
	for _, r := range records {
		if _, ok := ids[r.ExternalID]; !ok {
			out = append(out, r)
		}
	}
	return out
}

// Within keeps only records whose ID is in ids.
func Within(records []models.Record, ids map[string]struct{}) []models.Record {
	var out []models.Record
	for _, r := range records {
		if _, ok := ids[r.ExternalID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// OlderThan keeps records added more than days before now.
func OlderThan(records []models.Record, days int, now time.Time) []models.Record {
	cutoff := now.AddDate(0, 0, -days)
	var out []models.Record
	for _, r := range records {
		if !r.AddedAt.IsZero() && r.AddedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// WatchedIDs is the union of both history snapshots' IDs.
func WatchedIDs(history Pair) map[string]struct{} {
	ids := history.Primary.IDs()
	for id := range history.Secondary.IDs() {
		ids[id] = struct{}{}
	}
	return ids
}

// idSet collects the IDs of records.
func idSet(records []models.Record) map[string]struct{} {
	ids := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.Resolvable() {
			ids[r.ExternalID] = struct{}{}
		}
	}
	return ids
}

// asWatched turns a rating into a history entry watched when it was rated.
func asWatched(r models.Record) models.Record {
	r.Value = models.Value{WatchedAt: r.AddedAt}
	return r
}
