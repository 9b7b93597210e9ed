package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"ticker-storefront/internal/models"
)

var base = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

func at(min int) models.NullTime {
	return models.NewNullTime(base.Add(time.Duration(min) * time.Minute))
}

func record(id int64, min int) models.QuoteRecord {
	return models.QuoteRecord{
		ID:              models.InstrumentID(id),
		Ticker:          fmt.Sprintf("T%d", id),
		SellPrice:       float64(id) * 10,
		Dates:           []string{},
		LatestTimestamp: at(min),
	}
}

// fullWindow returns ids 1..10 where id 1 is newest.
func fullWindow() []models.QuoteRecord {
	w := make([]models.QuoteRecord, 0, 10)
	for id := int64(1); id <= 10; id++ {
		w = append(w, record(id, 100-int(id)))
	}
	return w
}

func update(id int64, min int) models.QuoteUpdate {
	ts := at(min)
	return models.QuoteUpdate{ID: models.InstrumentID(id), LatestTimestamp: &ts}
}

func ids(w []models.QuoteRecord) []int64 {
	out := make([]int64, len(w))
	for i, r := range w {
		out[i] = int64(r.ID)
	}
	return out
}

func sortedDesc(w []models.QuoteRecord) bool {
	for i := 1; i < len(w); i++ {
		if w[i-1].LatestTimestamp.Before(w[i].LatestTimestamp) {
			return false
		}
	}
	return true
}

func TestMergeMovesExistingRecord(t *testing.T) {
	window := fullWindow()
	ltp := 123.5
	u := update(7, 200)
	u.LTP = &ltp

	got := Merge(window, u, 10)

	if len(got) != 10 {
		t.Fatalf("size = %d", len(got))
	}
	if got[0].ID != 7 {
		t.Errorf("order = %v", ids(got))
	}
	if got[0].LTP != 123.5 || got[0].Ticker != "T7" || got[0].SellPrice != 70 {
		t.Errorf("fields not merged: %+v", got[0])
	}
	if !sortedDesc(got) {
		t.Errorf("not sorted: %v", ids(got))
	}
	if window[6].LTP != 0 {
		t.Error("input window modified")
	}
}

func TestMergeNewRecordEvictsOldest(t *testing.T) {
	got := Merge(fullWindow(), update(42, 150), 10)

	if len(got) != 10 {
		t.Fatalf("size = %d", len(got))
	}
	if got[0].ID != 42 {
		t.Errorf("new record not first: %v", ids(got))
	}
	for _, r := range got {
		if r.ID == 10 {
			t.Errorf("oldest record kept: %v", ids(got))
		}
	}
	if got[0].Dates == nil {
		t.Error("normalised record should have an empty date list")
	}
}

func TestMergeNewOldestRecordIsDropped(t *testing.T) {
	got := Merge(fullWindow(), update(42, 0), 10)
	for _, r := range got {
		if r.ID == 42 {
			t.Errorf("record older than the whole window was kept: %v", ids(got))
		}
	}
	if len(got) != 10 {
		t.Errorf("size = %d", len(got))
	}
}

func TestMergeOutOfOrderUpdate(t *testing.T) {
	// An older timestamp moves the record down.
	got := Merge(fullWindow(), update(1, 10), 10)
	if got[9].ID != 1 || !sortedDesc(got) {
		t.Errorf("order = %v", ids(got))
	}
}

func TestMergeNullTimestampSortsLast(t *testing.T) {
	window := []models.QuoteRecord{record(1, 5), record(2, 3)}
	u := models.QuoteUpdate{ID: 3}
	got := Merge(window, u, 10)
	if ids(got)[2] != 3 || got[2].LatestTimestamp.Valid {
		t.Errorf("order = %v", ids(got))
	}
}

func TestMergeDuplicateIsIdempotent(t *testing.T) {
	price := 99.0
	u := update(4, 300)
	u.SellPrice = &price

	once := Merge(fullWindow(), u, 10)
	twice := Merge(once, u, 10)

	if fmt.Sprint(ids(once)) != fmt.Sprint(ids(twice)) {
		t.Errorf("%v != %v", ids(once), ids(twice))
	}
	for i := range once {
		if once[i].SellPrice != twice[i].SellPrice || once[i].LatestTimestamp != twice[i].LatestTimestamp {
			t.Errorf("row %d changed on redelivery", i)
		}
	}
}

func TestMergeIntoEmptyWindow(t *testing.T) {
	got := Merge(nil, update(1, 0), 10)
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("window = %+v", got)
	}
}

// TestProperty_MergeKeepsWindowBounded checks that merging any update
// sequence keeps the window sorted, free of duplicate ids, and no larger
// than the limit.
func TestProperty_MergeKeepsWindowBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	updateGen := gopter.CombineGens(
		gen.Int64Range(1, 25),
		gen.IntRange(-1, 500),
	).Map(func(v []interface{}) models.QuoteUpdate {
		id := v[0].(int64)
		min := v[1].(int)
		if min < 0 {
			return models.QuoteUpdate{ID: models.InstrumentID(id)}
		}
		return update(id, min)
	})

	properties.Property("bounded, sorted, unique", prop.ForAll(
		func(updates []models.QuoteUpdate, limit int) bool {
			var window []models.QuoteRecord
			for _, u := range updates {
				before := len(window)
				window = Merge(window, u, limit)
				if len(window) > limit || len(window) < before {
					return false
				}
				if !sortedDesc(window) {
					return false
				}
				seen := map[models.InstrumentID]bool{}
				for _, r := range window {
					if seen[r.ID] {
						return false
					}
					seen[r.ID] = true
				}
			}
			return true
		},
		gen.SliceOf(updateGen),
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}
