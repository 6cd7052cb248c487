package leaderboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/baroque-dev/baroque/internal/persistence"
)

const historyDays = 30

// UsageTotals are summed counters with derived totals.
type UsageTotals struct {
	TotalTokens          int64   `json:"total_tokens"`
	UncachedInputTokens  int64   `json:"uncached_input_tokens"`
	CacheReadInputTokens int64   `json:"cache_read_input_tokens"`
	OutputTokens         int64   `json:"output_tokens"`
	CacheRate            float64 `json:"cache_rate"`
	WebSearchRequests    int64   `json:"web_search_requests"`
}

// DailyStats are one calendar date's totals across the selected models.
type DailyStats struct {
	Date string `json:"date"`
	UsageTotals
}

// DeveloperStats summarize one registered developer.
type DeveloperStats struct {
	APIKeyID      string                 `json:"api_key_id"`
	Name          string                 `json:"name"`
	CurrentPeriod map[Period]UsageTotals `json:"current_period"`
	DailyHistory  []DailyStats           `json:"daily_history"`
	Rankings      map[Category]int       `json:"rankings"`
	Model         string                 `json:"model,omitempty"`
}

func newUsageTotals(c persistence.Counters) UsageTotals {
	return UsageTotals{
		TotalTokens:          c.UncachedInputTokens + c.CacheReadInputTokens + c.OutputTokens,
		UncachedInputTokens:  c.UncachedInputTokens,
		CacheReadInputTokens: c.CacheReadInputTokens,
		OutputTokens:         c.OutputTokens,
		CacheRate:            CacheRate(c.CacheReadInputTokens, c.UncachedInputTokens),
		WebSearchRequests:    c.WebSearchRequests,
	}
}

// DeveloperStats returns 30 days of history, day/week/month totals and
// weekly rankings for a registered developer.
func (e *Engine) DeveloperStats(ctx context.Context, apiKeyID, model string) (*DeveloperStats, error) {
	dev, err := e.store.GetDeveloper(ctx, apiKeyID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrDeveloperNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load developer: %w", err)
	}

	today := e.today()
	history, err := e.store.QuerySnapshots(ctx, persistence.SnapshotFilter{
		From:     today.AddDate(0, 0, -historyDays),
		To:       today,
		APIKeyID: apiKeyID,
		Model:    model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	// Snapshots arrive newest first; merge models per date.
	var daily []DailyStats
	var current *persistence.Counters
	var currentDate string
	flush := func() {
		if current != nil {
			daily = append(daily, DailyStats{Date: currentDate, UsageTotals: newUsageTotals(*current)})
		}
	}
	for _, snap := range history {
		date := snap.Date.Format(persistence.DateLayout)
		if current == nil || date != currentDate {
			flush()
			current = &persistence.Counters{}
			currentDate = date
		}
		current.Add(snap.Counters)
	}
	flush()
	if daily == nil {
		daily = []DailyStats{}
	}

	periodTotals := func(days int) UsageTotals {
		since := today.AddDate(0, 0, -days)
		var sum persistence.Counters
		for _, snap := range lo.Filter(history, func(s persistence.UsageSnapshot, _ int) bool {
			return !s.Date.Before(since)
		}) {
			sum.Add(snap.Counters)
		}
		return newUsageTotals(sum)
	}

	rankings, err := e.RankingsFor(ctx, apiKeyID, PeriodWeek, model)
	if err != nil {
		return nil, err
	}

	return &DeveloperStats{
		APIKeyID: dev.APIKeyID,
		Name:     dev.Name,
		CurrentPeriod: map[Period]UsageTotals{
			PeriodDay:   periodTotals(1),
			PeriodWeek:  periodTotals(7),
			PeriodMonth: periodTotals(30),
		},
		DailyHistory: daily,
		Rankings:     rankings,
		Model:        model,
	}, nil
}
