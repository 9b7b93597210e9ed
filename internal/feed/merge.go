// Package feed keeps the first page of the ticker list current: paging and
// filter state, REST loads, and merging of pushed quote updates.
package feed

import (
	"sort"

	"ticker-storefront/internal/models"
)

// Merge folds one pushed update into a page-one window and returns the new
// window. window is not modified.
//
// A known id is updated in place, keeping fields the update leaves out. An
// unseen id is normalised and put at the front. The result is then sorted by
// LatestTimestamp, newest first with null last, and cut to limit entries, so
// a full window evicts its oldest record (possibly the new one).
func Merge(window []models.QuoteRecord, u models.QuoteUpdate, limit int) []models.QuoteRecord {
	out := make([]models.QuoteRecord, 0, len(window)+1)

	found := false
	for _, rec := range window {
		if rec.ID == u.ID {
			rec = u.ApplyTo(rec)
			found = true
		}
		out = append(out, rec)
	}
	if !found {
		out = append([]models.QuoteRecord{u.Normalize()}, out...)
	}

	SortWindow(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortWindow orders records newest first. Records with equal timestamps keep
// their relative order.
func SortWindow(window []models.QuoteRecord) {
	sort.SliceStable(window, func(i, j int) bool {
		return window[j].LatestTimestamp.Before(window[i].LatestTimestamp)
	})
}
