// Package persistence provides persistent storage for daily usage snapshots
// and registered developers. It supports SQLite and PostgreSQL backends.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist or is inactive.
var ErrNotFound = errors.New("persistence: not found")

// DateLayout is the calendar-date format used for snapshot dates.
const DateLayout = "2006-01-02"

// timestampLayout matches the format SQLite's datetime functions produce.
const timestampLayout = "2006-01-02 15:04:05"

// UnknownModel is stored when the source omits a model name.
const UnknownModel = "unknown"

// CalendarDate truncates t to midnight UTC of its UTC calendar date.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Counters are the six usage counters tracked per snapshot.
type Counters struct {
	UncachedInputTokens   int64 `json:"uncached_input_tokens"`
	CacheReadInputTokens  int64 `json:"cache_read_input_tokens"`
	CacheCreation5mTokens int64 `json:"cache_creation_5m_tokens"`
	CacheCreation1hTokens int64 `json:"cache_creation_1h_tokens"`
	OutputTokens          int64 `json:"output_tokens"`
	WebSearchRequests     int64 `json:"web_search_requests"`
}

// Add accumulates other into c.
func (c *Counters) Add(other Counters) {
	c.UncachedInputTokens += other.UncachedInputTokens
	c.CacheReadInputTokens += other.CacheReadInputTokens
	c.CacheCreation5mTokens += other.CacheCreation5mTokens
	c.CacheCreation1hTokens += other.CacheCreation1hTokens
	c.OutputTokens += other.OutputTokens
	c.WebSearchRequests += other.WebSearchRequests
}

// UsageSnapshot is one persisted daily, per-model usage total for one API key.
// At most one active snapshot exists per (APIKeyID, Date, Model).
type UsageSnapshot struct {
	ID       int64
	APIKeyID string
	Date     time.Time
	Model    string
	Counters
	FetchedAt time.Time
}

// Developer is a registered identity.
type Developer struct {
	EntityID     string
	APIKeyID     string
	Name         string
	RegisteredAt time.Time
}

// SnapshotFilter selects active snapshots. From and To are inclusive
// calendar dates; zero values leave that bound open.
type SnapshotFilter struct {
	From     time.Time
	To       time.Time
	Model    string
	APIKeyID string
}

// SnapshotStore persists usage snapshots.
type SnapshotStore interface {
	// UpsertSnapshot replaces all counters and the fetch time of the snapshot
	// keyed by (APIKeyID, Date, Model), creating it if absent. The replace is
	// a single atomic row write.
	UpsertSnapshot(ctx context.Context, snapshot UsageSnapshot) error
	// GetSnapshot returns ErrNotFound when no active snapshot matches.
	GetSnapshot(ctx context.Context, apiKeyID string, date time.Time, model string) (*UsageSnapshot, error)
	// QuerySnapshots returns active snapshots ordered by date descending.
	QuerySnapshots(ctx context.Context, filter SnapshotFilter) ([]UsageSnapshot, error)
	// DistinctModels returns the sorted model names of all active snapshots.
	DistinctModels(ctx context.Context) ([]string, error)
	// DeactivateSnapshotsBefore soft-deletes snapshots dated before the given day.
	DeactivateSnapshotsBefore(ctx context.Context, before time.Time) (int64, error)
	// SnapshotCount returns the number of active snapshots.
	SnapshotCount(ctx context.Context) (int64, error)
}

// DeveloperStore persists registered developers.
type DeveloperStore interface {
	// SaveDeveloper registers dev, or renames the developer already registered
	// under the same APIKeyID. It returns the stored row.
	SaveDeveloper(ctx context.Context, dev Developer) (*Developer, error)
	// GetDeveloper returns ErrNotFound for unknown or inactive keys.
	GetDeveloper(ctx context.Context, apiKeyID string) (*Developer, error)
	ListDevelopers(ctx context.Context) ([]Developer, error)
}

// Storage is the full persistence surface.
type Storage interface {
	SnapshotStore
	DeveloperStore

	Close() error
}
