package persistence

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

//go:embed schema_postgres.sql
var schemaPostgresSQL string

// PostgresStorage implements Storage on a PostgreSQL connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to dsn, verifies the connection and creates the
// schema if it does not exist.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaPostgresSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.WithFields(log.Fields{
		"host":     poolCfg.ConnConfig.Host,
		"database": poolCfg.ConnConfig.Database,
	}).Info("PostgreSQL storage initialized")

	return &PostgresStorage{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// UpsertSnapshot replaces the counters of one snapshot row in a single statement.
func (s *PostgresStorage) UpsertSnapshot(ctx context.Context, snapshot UsageSnapshot) error {
	query := `
		INSERT INTO usage_snapshot (
			api_key_id, snapshot_date, model,
			uncached_input_tokens, cache_read_input_tokens,
			cache_creation_5m_tokens, cache_creation_1h_tokens,
			output_tokens, web_search_requests,
			fetched_at, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE)
		ON CONFLICT (api_key_id, snapshot_date, model) DO UPDATE SET
			uncached_input_tokens    = EXCLUDED.uncached_input_tokens,
			cache_read_input_tokens  = EXCLUDED.cache_read_input_tokens,
			cache_creation_5m_tokens = EXCLUDED.cache_creation_5m_tokens,
			cache_creation_1h_tokens = EXCLUDED.cache_creation_1h_tokens,
			output_tokens            = EXCLUDED.output_tokens,
			web_search_requests      = EXCLUDED.web_search_requests,
			fetched_at               = EXCLUDED.fetched_at,
			active                   = TRUE
	`

	model := snapshot.Model
	if model == "" {
		model = UnknownModel
	}

	_, err := s.pool.Exec(ctx, query,
		snapshot.APIKeyID, CalendarDate(snapshot.Date), model,
		snapshot.UncachedInputTokens, snapshot.CacheReadInputTokens,
		snapshot.CacheCreation5mTokens, snapshot.CacheCreation1hTokens,
		snapshot.OutputTokens, snapshot.WebSearchRequests,
		snapshot.FetchedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func scanPostgresSnapshot(row pgx.Row) (UsageSnapshot, error) {
	var snap UsageSnapshot
	err := row.Scan(
		&snap.ID, &snap.APIKeyID, &snap.Date, &snap.Model,
		&snap.UncachedInputTokens, &snap.CacheReadInputTokens,
		&snap.CacheCreation5mTokens, &snap.CacheCreation1hTokens,
		&snap.OutputTokens, &snap.WebSearchRequests, &snap.FetchedAt,
	)
	snap.Date = CalendarDate(snap.Date)
	return snap, err
}

// GetSnapshot returns the active snapshot for the given key triple.
func (s *PostgresStorage) GetSnapshot(ctx context.Context, apiKeyID string, date time.Time, model string) (*UsageSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM usage_snapshot
		WHERE api_key_id = $1 AND snapshot_date = $2 AND model = $3 AND active`

	snap, err := scanPostgresSnapshot(s.pool.QueryRow(ctx, query, apiKeyID, CalendarDate(date), model))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &snap, nil
}

// QuerySnapshots performs a filtered query on active snapshots.
func (s *PostgresStorage) QuerySnapshots(ctx context.Context, filter SnapshotFilter) ([]UsageSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM usage_snapshot
		WHERE active
	`
	args := []any{}
	placeholder := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !filter.From.IsZero() {
		query += " AND snapshot_date >= " + placeholder(CalendarDate(filter.From))
	}
	if !filter.To.IsZero() {
		query += " AND snapshot_date <= " + placeholder(CalendarDate(filter.To))
	}
	if filter.Model != "" {
		query += " AND model = " + placeholder(filter.Model)
	}
	if filter.APIKeyID != "" {
		query += " AND api_key_id = " + placeholder(filter.APIKeyID)
	}

	query += " ORDER BY snapshot_date DESC, api_key_id, model"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []UsageSnapshot
	for rows.Next() {
		snap, err := scanPostgresSnapshot(rows)
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
func (s *PostgresStorage) DistinctModels(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT model FROM usage_snapshot WHERE active ORDER BY model")
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	models, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan models: %w", err)
	}
	if models == nil {
		models = []string{}
	}
	return models, nil
}

// DeactivateSnapshotsBefore soft-deletes snapshots dated before the given day.
func (s *PostgresStorage) DeactivateSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "UPDATE usage_snapshot SET active = FALSE WHERE active AND snapshot_date < $1", CalendarDate(before))
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate snapshots: %w", err)
	}

	deactivated := tag.RowsAffected()
	if deactivated > 0 {
		log.WithFields(log.Fields{
			"deactivated": deactivated,
			"before":      CalendarDate(before).Format(DateLayout),
		}).Info("Snapshot retention completed")
	}
	return deactivated, nil
}

// SnapshotCount returns the number of active snapshots.
func (s *PostgresStorage) SnapshotCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM usage_snapshot WHERE active").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get snapshot count: %w", err)
	}
	return count, nil
}

// SaveDeveloper registers a developer or renames an existing one.
func (s *PostgresStorage) SaveDeveloper(ctx context.Context, dev Developer) (*Developer, error) {
	if dev.EntityID == "" {
		dev.EntityID = uuid.NewString()
	}
	if dev.RegisteredAt.IsZero() {
		dev.RegisteredAt = time.Now()
	}

	query := `
		INSERT INTO developer (entity_id, api_key_id, name, registered_at, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (api_key_id) DO UPDATE SET
			name   = EXCLUDED.name,
			active = TRUE
		RETURNING entity_id, api_key_id, name, registered_at
	`

	var saved Developer
	err := s.pool.QueryRow(ctx, query, dev.EntityID, dev.APIKeyID, dev.Name, dev.RegisteredAt.UTC()).
		Scan(&saved.EntityID, &saved.APIKeyID, &saved.Name, &saved.RegisteredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save developer: %w", err)
	}
	return &saved, nil
}

// GetDeveloper returns the active developer registered under apiKeyID.
func (s *PostgresStorage) GetDeveloper(ctx context.Context, apiKeyID string) (*Developer, error) {
	var dev Developer
	err := s.pool.QueryRow(ctx,
		"SELECT entity_id, api_key_id, name, registered_at FROM developer WHERE api_key_id = $1 AND active",
		apiKeyID,
	).Scan(&dev.EntityID, &dev.APIKeyID, &dev.Name, &dev.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get developer: %w", err)
	}
	return &dev, nil
}

// ListDevelopers returns every active developer ordered by registration.
func (s *PostgresStorage) ListDevelopers(ctx context.Context) ([]Developer, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT entity_id, api_key_id, name, registered_at FROM developer WHERE active ORDER BY registered_at, api_key_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list developers: %w", err)
	}
	developers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Developer, error) {
		var dev Developer
		err := row.Scan(&dev.EntityID, &dev.APIKeyID, &dev.Name, &dev.RegisteredAt)
		return dev, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan developers: %w", err)
	}
	return developers, nil
}
