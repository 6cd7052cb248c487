// Package leaderboard ranks developers by usage metrics computed from daily
// snapshots, and builds per-developer statistics.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/baroque-dev/baroque/internal/persistence"
)

var (
	// ErrInvalidPeriod is returned for a period other than day, week or month.
	ErrInvalidPeriod = errors.New("leaderboard: invalid period")
	// ErrDeveloperNotFound is returned for statistics on an unregistered key.
	ErrDeveloperNotFound = fmt.Errorf("leaderboard: developer %w", persistence.ErrNotFound)
)

// Category names one ranking.
type Category string

const (
	// EfficientUser ranks output tokens per input token.
	EfficientUser Category = "efficient_user"
	// CacheChampion ranks the share of input read from cache.
	CacheChampion Category = "cache_champion"
	// Wordsmith ranks output tokens.
	Wordsmith Category = "wordsmith"
	// ToolMaster ranks web search requests.
	ToolMaster Category = "tool_master"
)

// Categories lists every category in display order.
var Categories = []Category{EfficientUser, CacheChampion, Wordsmith, ToolMaster}

// Entry is one ranked row.
type Entry struct {
	Rank        int     `json:"rank"`
	APIKeyID    string  `json:"api_key_id"`
	DisplayName string  `json:"display_name"`
	Value       float64 `json:"value"`
	IsSelf      bool    `json:"is_self"`
}

// Board holds the rankings of every category for one period.
type Board struct {
	Period     Period               `json:"period"`
	Categories map[Category][]Entry `json:"categories"`
	UpdatedAt  time.Time            `json:"updated_at"`
	Model      string               `json:"model,omitempty"`
}

// Store is the persistence the engine reads from.
type Store interface {
	QuerySnapshots(ctx context.Context, filter persistence.SnapshotFilter) ([]persistence.UsageSnapshot, error)
	DistinctModels(ctx context.Context) ([]string, error)
	GetDeveloper(ctx context.Context, apiKeyID string) (*persistence.Developer, error)
	ListDevelopers(ctx context.Context) ([]persistence.Developer, error)
}

// Engine computes leaderboards. It is safe for concurrent use.
type Engine struct {
	store Store
	now   func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now. Today is the UTC date of the returned time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine reading from store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) today() time.Time {
	return persistence.CalendarDate(e.now())
}

// Compute ranks every developer with snapshots in period. callerKey, when
// non-empty, marks the caller's own rows, which show the full key and the
// registered name. model, when non-empty, restricts snapshots to one model.
func (e *Engine) Compute(ctx context.Context, period Period, callerKey, model string) (*Board, error) {
	from, to := period.Window(e.today())

	snapshots, err := e.store.QuerySnapshots(ctx, persistence.SnapshotFilter{From: from, To: to, Model: model})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	devs, err := e.store.ListDevelopers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load developers: %w", err)
	}

	totals := make(map[string]*persistence.Counters)
	for _, snap := range snapshots {
		c, ok := totals[snap.APIKeyID]
		if !ok {
			c = &persistence.Counters{}
			totals[snap.APIKeyID] = c
		}
		c.Add(snap.Counters)
	}

	// Ties keep key order, so equal values always rank the same way.
	keys := lo.Keys(totals)
	sort.Strings(keys)

	registered := lo.KeyBy(devs, func(d persistence.Developer) string { return d.APIKeyID })

	board := &Board{
		Period:     period,
		Categories: make(map[Category][]Entry, len(Categories)),
		UpdatedAt:  e.now().UTC(),
		Model:      model,
	}
	for _, cat := range Categories {
		entries := make([]Entry, 0, len(keys))
		for _, key := range keys {
			entries = append(entries, newEntry(key, callerKey, registered, categoryValue(cat, *totals[key])))
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Value > entries[j].Value
		})
		for i := range entries {
			entries[i].Rank = i + 1
		}
		board.Categories[cat] = entries
	}

	return board, nil
}

func newEntry(key, callerKey string, registered map[string]persistence.Developer, value float64) Entry {
	isSelf := callerKey != "" && key == callerKey
	entry := Entry{
		APIKeyID:    MaskAPIKey(key),
		DisplayName: MaskAPIKey(key),
		Value:       value,
		IsSelf:      isSelf,
	}
	if isSelf {
		entry.APIKeyID = key
		if dev, ok := registered[key]; ok {
			entry.DisplayName = dev.Name
		}
	}
	return entry
}

func categoryValue(cat Category, c persistence.Counters) float64 {
	switch cat {
	case EfficientUser:
		return Efficiency(c.OutputTokens, c.UncachedInputTokens, c.CacheReadInputTokens)
	case CacheChampion:
		return CacheRate(c.CacheReadInputTokens, c.UncachedInputTokens)
	case Wordsmith:
		return float64(c.OutputTokens)
	case ToolMaster:
		return float64(c.WebSearchRequests)
	default:
		return 0
	}
}

// RankingsFor returns apiKeyID's rank in each category, or 0 where it has
// no entry.
func (e *Engine) RankingsFor(ctx context.Context, apiKeyID string, period Period, model string) (map[Category]int, error) {
	board, err := e.Compute(ctx, period, apiKeyID, model)
	if err != nil {
		return nil, err
	}

	rankings := make(map[Category]int, len(Categories))
	for _, cat := range Categories {
		rankings[cat] = 0
		if entry, ok := lo.Find(board.Categories[cat], func(en Entry) bool { return en.IsSelf }); ok {
			rankings[cat] = entry.Rank
		}
	}
	return rankings, nil
}

// DistinctModels returns the sorted names of models with usage data.
func (e *Engine) DistinctModels(ctx context.Context) ([]string, error) {
	models, err := e.store.DistinctModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	if models == nil {
		models = []string{}
	}
	return models, nil
}
