// Package ingest turns hourly usage buckets from the usage source into daily
// per-model snapshots for registered developers.
package ingest

import (
	"sort"
	"time"

	"github.com/baroque-dev/baroque/internal/persistence"
	"github.com/baroque-dev/baroque/internal/usagesource"
)

// DailyTotal is the sum of every raw record sharing one
// (APIKeyID, Model, Date) key.
type DailyTotal struct {
	APIKeyID string
	Model    string
	Date     time.Time
	persistence.Counters
}

type dailyKey struct {
	apiKeyID string
	model    string
	date     string
}

// Aggregate groups records by (APIKeyID, Model, BucketDate) and sums their
// counters. Records without an API key or bucket date are dropped, and a
// missing model is reported as persistence.UnknownModel.
//
// The result is sorted by date, key and model; callers must not rely on it.
func Aggregate(records []usagesource.RawRecord) []DailyTotal {
	acc := make(map[dailyKey]*DailyTotal)

	for _, rec := range records {
		if rec.APIKeyID == "" || rec.BucketDate.IsZero() {
			continue
		}
		model := rec.Model
		if model == "" {
			model = persistence.UnknownModel
		}
		date := persistence.CalendarDate(rec.BucketDate)

		key := dailyKey{apiKeyID: rec.APIKeyID, model: model, date: date.Format(persistence.DateLayout)}
		total, ok := acc[key]
		if !ok {
			total = &DailyTotal{APIKeyID: rec.APIKeyID, Model: model, Date: date}
			acc[key] = total
		}
		total.Add(rec.Counters)
	}

	totals := make([]DailyTotal, 0, len(acc))
	for _, total := range acc {
		totals = append(totals, *total)
	}
	sort.Slice(totals, func(i, j int) bool {
		if !totals[i].Date.Equal(totals[j].Date) {
			return totals[i].Date.Before(totals[j].Date)
		}
		if totals[i].APIKeyID != totals[j].APIKeyID {
			return totals[i].APIKeyID < totals[j].APIKeyID
		}
		return totals[i].Model < totals[j].Model
	})
	return totals
}
