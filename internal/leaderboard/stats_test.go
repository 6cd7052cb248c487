package leaderboard

import (
	"context"
	"errors"
	"testing"

	"github.com/baroque-dev/baroque/internal/persistence"
)

func TestDeveloperStatsNotFound(t *testing.T) {
	_, err := newTestEngine(newTestStorage(t)).DeveloperStats(context.Background(), "key-missing", "")
	if !errors.Is(err, ErrDeveloperNotFound) {
		t.Fatalf("Expected ErrDeveloperNotFound, got %v", err)
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected error to wrap persistence.ErrNotFound")
	}
}

func TestDeveloperStats(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	registerDev(t, storage, "key-a", "Alice")

	putSnapshot(t, storage, "key-a", "sonnet", daysAgo(0), persistence.Counters{
		UncachedInputTokens: 70, CacheReadInputTokens: 30, OutputTokens: 50, WebSearchRequests: 1,
	})
	putSnapshot(t, storage, "key-a", "opus", daysAgo(0), persistence.Counters{
		UncachedInputTokens: 30, CacheReadInputTokens: 70, OutputTokens: 50,
	})
	putSnapshot(t, storage, "key-a", "sonnet", daysAgo(3), persistence.Counters{
		UncachedInputTokens: 10, OutputTokens: 5,
	})
	putSnapshot(t, storage, "key-a", "sonnet", daysAgo(20), persistence.Counters{
		OutputTokens: 7,
	})
	putSnapshot(t, storage, "key-a", "sonnet", daysAgo(45), persistence.Counters{
		OutputTokens: 1000,
	})
	putSnapshot(t, storage, "key-b", "sonnet", daysAgo(0), persistence.Counters{
		OutputTokens: 500,
	})

	stats, err := newTestEngine(storage).DeveloperStats(ctx, "key-a", "")
	if err != nil {
		t.Fatalf("DeveloperStats failed: %v", err)
	}

	if stats.Name != "Alice" || stats.APIKeyID != "key-a" {
		t.Errorf("Unexpected identity: %s %s", stats.APIKeyID, stats.Name)
	}

	if len(stats.DailyHistory) != 3 {
		t.Fatalf("Expected 3 days of history, got %d: %+v", len(stats.DailyHistory), stats.DailyHistory)
	}
	latest := stats.DailyHistory[0]
	if latest.Date != daysAgo(0).Format(persistence.DateLayout) {
		t.Errorf("Expected newest day first, got %s", latest.Date)
	}
	if latest.TotalTokens != 300 || latest.CacheRate != 50 {
		t.Errorf("Expected models merged per day, got %+v", latest.UsageTotals)
	}

	day := stats.CurrentPeriod[PeriodDay]
	if day.OutputTokens != 100 || day.WebSearchRequests != 1 {
		t.Errorf("Unexpected day totals: %+v", day)
	}
	week := stats.CurrentPeriod[PeriodWeek]
	if week.OutputTokens != 105 {
		t.Errorf("Expected week output 105, got %d", week.OutputTokens)
	}
	month := stats.CurrentPeriod[PeriodMonth]
	if month.OutputTokens != 112 {
		t.Errorf("Expected month output 112, got %d", month.OutputTokens)
	}

	if stats.Rankings[Wordsmith] != 2 {
		t.Errorf("Expected wordsmith rank 2, got %d", stats.Rankings[Wordsmith])
	}
}

func TestDeveloperStatsModelFilter(t *testing.T) {
	ctx := context.Background()
	storage := newTestStorage(t)
	registerDev(t, storage, "key-a", "Alice")

	putSnapshot(t, storage, "key-a", "sonnet", daysAgo(0), persistence.Counters{OutputTokens: 5})
	putSnapshot(t, storage, "key-a", "opus", daysAgo(0), persistence.Counters{OutputTokens: 50})

	stats, err := newTestEngine(storage).DeveloperStats(ctx, "key-a", "opus")
	if err != nil {
		t.Fatalf("DeveloperStats failed: %v", err)
	}
	if got := stats.CurrentPeriod[PeriodWeek].OutputTokens; got != 50 {
		t.Errorf("Expected only opus usage, got %d", got)
	}
	if stats.Model != "opus" {
		t.Errorf("Expected model opus, got %q", stats.Model)
	}
}

func TestDeveloperStatsWithoutUsage(t *testing.T) {
	storage := newTestStorage(t)
	registerDev(t, storage, "key-a", "Alice")

	stats, err := newTestEngine(storage).DeveloperStats(context.Background(), "key-a", "")
	if err != nil {
		t.Fatalf("DeveloperStats failed: %v", err)
	}
	if stats.DailyHistory == nil || len(stats.DailyHistory) != 0 {
		t.Errorf("Expected empty history, got %#v", stats.DailyHistory)
	}
	for cat, rank := range stats.Rankings {
		if rank != 0 {
			t.Errorf("%s: expected rank 0, got %d", cat, rank)
		}
	}
}

func TestDeveloperStatsIgnoresFutureSnapshots(t *testing.T) {
	storage := newTestStorage(t)
	registerDev(t, storage, "key-a", "Alice")

	putSnapshot(t, storage, "key-a", "sonnet", daysAgo(0), persistence.Counters{OutputTokens: 10})
	putSnapshot(t, storage, "key-a", "sonnet", daysAgo(-2), persistence.Counters{OutputTokens: 900})

	stats, err := newTestEngine(storage).DeveloperStats(context.Background(), "key-a", "")
	if err != nil {
		t.Fatalf("DeveloperStats failed: %v", err)
	}
	if len(stats.DailyHistory) != 1 || stats.DailyHistory[0].Date != daysAgo(0).Format(persistence.DateLayout) {
		t.Errorf("Expected only today in history, got %+v", stats.DailyHistory)
	}
	for _, p := range []Period{PeriodDay, PeriodWeek, PeriodMonth} {
		if got := stats.CurrentPeriod[p].OutputTokens; got != 10 {
			t.Errorf("%s: expected output 10, got %d", p, got)
		}
	}
}
