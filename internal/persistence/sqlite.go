package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const memoryPath = ":memory:"

// SQLiteStorage implements Storage using a SQLite database.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens (creating if needed) the database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	dsn := path
	if path != memoryPath {
		// Pragmas in the DSN apply to every pooled connection.
		dsn = path + "?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == memoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	storage := &SQLiteStorage{
		db:   db,
		path: path,
	}

	log.WithField("path", path).Info("SQLite storage initialized")
	return storage, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertSnapshot replaces the counters of one snapshot row in a single statement.
func (s *SQLiteStorage) UpsertSnapshot(ctx context.Context, snapshot UsageSnapshot) error {
	query := `
		INSERT INTO usage_snapshot (
			api_key_id, snapshot_date, model,
			uncached_input_tokens, cache_read_input_tokens,
			cache_creation_5m_tokens, cache_creation_1h_tokens,
			output_tokens, web_search_requests,
			fetched_at, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT (api_key_id, snapshot_date, model) DO UPDATE SET
			uncached_input_tokens    = excluded.uncached_input_tokens,
			cache_read_input_tokens  = excluded.cache_read_input_tokens,
			cache_creation_5m_tokens = excluded.cache_creation_5m_tokens,
			cache_creation_1h_tokens = excluded.cache_creation_1h_tokens,
			output_tokens            = excluded.output_tokens,
			web_search_requests      = excluded.web_search_requests,
			fetched_at               = excluded.fetched_at,
			active                   = 1
	`

	model := snapshot.Model
	if model == "" {
		model = UnknownModel
	}

	_, err := s.db.ExecContext(ctx, query,
		snapshot.APIKeyID, CalendarDate(snapshot.Date).Format(DateLayout), model,
		snapshot.UncachedInputTokens, snapshot.CacheReadInputTokens,
		snapshot.CacheCreation5mTokens, snapshot.CacheCreation1hTokens,
		snapshot.OutputTokens, snapshot.WebSearchRequests,
		snapshot.FetchedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `
	id, api_key_id, snapshot_date, model,
	uncached_input_tokens, cache_read_input_tokens,
	cache_creation_5m_tokens, cache_creation_1h_tokens,
	output_tokens, web_search_requests, fetched_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSnapshot(row rowScanner) (UsageSnapshot, error) {
	var snap UsageSnapshot
	var dateStr, fetchedAtStr string
	err := row.Scan(
		&snap.ID, &snap.APIKeyID, &dateStr, &snap.Model,
		&snap.UncachedInputTokens, &snap.CacheReadInputTokens,
		&snap.CacheCreation5mTokens, &snap.CacheCreation1hTokens,
		&snap.OutputTokens, &snap.WebSearchRequests, &fetchedAtStr,
	)
	if err != nil {
		return snap, err
	}

	snap.Date, err = time.Parse(DateLayout, dateStr)
	if err != nil {
		return snap, fmt.Errorf("invalid snapshot_date %q: %w", dateStr, err)
	}
	snap.FetchedAt, _ = time.Parse(timestampLayout, fetchedAtStr)
	return snap, nil
}

// GetSnapshot returns the active snapshot for the given key triple.
func (s *SQLiteStorage) GetSnapshot(ctx context.Context, apiKeyID string, date time.Time, model string) (*UsageSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM usage_snapshot
		WHERE api_key_id = ? AND snapshot_date = ? AND model = ? AND active = 1`

	snap, err := scanSQLiteSnapshot(s.db.QueryRowContext(ctx, query, apiKeyID, CalendarDate(date).Format(DateLayout), model))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snap, nil
}

// QuerySnapshots performs a filtered query on active snapshots.
func (s *SQLiteStorage) QuerySnapshots(ctx context.Context, filter SnapshotFilter) ([]UsageSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM usage_snapshot
		WHERE active = 1
	`
	args := []any{}

	if !filter.From.IsZero() {
		query += " AND snapshot_date >= ?"
		args = append(args, CalendarDate(filter.From).Format(DateLayout))
	}

	if !filter.To.IsZero() {
		query += " AND snapshot_date <= ?"
		args = append(args, CalendarDate(filter.To).Format(DateLayout))
	}

	if filter.Model != "" {
		query += " AND model = ?"
		args = append(args, filter.Model)
	}

	if filter.APIKeyID != "" {
		query += " AND api_key_id = ?"
		args = append(args, filter.APIKeyID)
	}

	query += " ORDER BY snapshot_date DESC, api_key_id, model"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []UsageSnapshot
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return snapshots, nil
}

// DistinctModels returns every model seen in an active snapshot.
func (s *SQLiteStorage) DistinctModels(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT model FROM usage_snapshot WHERE active = 1 ORDER BY model")
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	models := []string{}
	for rows.Next() {
		var model string
		if err := rows.Scan(&model); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		models = append(models, model)
	}
	return models, rows.Err()
}

// DeactivateSnapshotsBefore soft-deletes snapshots dated before the given day.
func (s *SQLiteStorage) DeactivateSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	cutoff := CalendarDate(before).Format(DateLayout)
	result, err := s.db.ExecContext(ctx, "UPDATE usage_snapshot SET active = 0 WHERE active = 1 AND snapshot_date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate snapshots: %w", err)
	}

	deactivated, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deactivated > 0 {
		log.WithFields(log.Fields{
			"deactivated": deactivated,
			"before":      cutoff,
		}).Info("Snapshot retention completed")
	}

	return deactivated, nil
}

// SnapshotCount returns the number of active snapshots.
func (s *SQLiteStorage) SnapshotCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage_snapshot WHERE active = 1").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot count: %w", err)
	}
	return count, nil
}

// SaveDeveloper registers a developer or renames an existing one.
func (s *SQLiteStorage) SaveDeveloper(ctx context.Context, dev Developer) (*Developer, error) {
	if dev.EntityID == "" {
		dev.EntityID = uuid.NewString()
	}
	if dev.RegisteredAt.IsZero() {
		dev.RegisteredAt = time.Now()
	}

	query := `
		INSERT INTO developer (entity_id, api_key_id, name, registered_at, active)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (api_key_id) DO UPDATE SET
			name   = excluded.name,
			active = 1
		RETURNING entity_id, api_key_id, name, registered_at
	`

	saved, err := scanSQLiteDeveloper(s.db.QueryRowContext(ctx, query,
		dev.EntityID, dev.APIKeyID, dev.Name, dev.RegisteredAt.UTC().Format(timestampLayout),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save developer: %w", err)
	}
	return &saved, nil
}

func scanSQLiteDeveloper(row rowScanner) (Developer, error) {
	var dev Developer
	var registeredAtStr string
	if err := row.Scan(&dev.EntityID, &dev.APIKeyID, &dev.Name, &registeredAtStr); err != nil {
		return dev, err
	}
	dev.RegisteredAt, _ = time.Parse(timestampLayout, registeredAtStr)
	return dev, nil
}

// GetDeveloper returns the active developer registered under apiKeyID.
func (s *SQLiteStorage) GetDeveloper(ctx context.Context, apiKeyID string) (*Developer, error) {
	dev, err := scanSQLiteDeveloper(s.db.QueryRowContext(ctx,
		"SELECT entity_id, api_key_id, name, registered_at FROM developer WHERE api_key_id = ? AND active = 1",
		apiKeyID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get developer: %w", err)
	}
	return &dev, nil
}

// ListDevelopers returns every active developer ordered by registration.
func (s *SQLiteStorage) ListDevelopers(ctx context.Context) ([]Developer, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_id, api_key_id, name, registered_at FROM developer WHERE active = 1 ORDER BY registered_at, api_key_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list developers: %w", err)
	}
	defer rows.Close()

	var developers []Developer
	for rows.Next() {
		dev, err := scanSQLiteDeveloper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan developer: %w", err)
		}
		developers = append(developers, dev)
	}
	return developers, rows.Err()
}
