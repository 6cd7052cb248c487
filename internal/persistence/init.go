package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/config"
)

// Open creates the storage backend selected by cfg.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Storage, error) {
	switch cfg.Type {
	case "sqlite", "":
		storage, err := initSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		return storage, nil
	case "postgres":
		storage, err := NewPostgresStorage(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL storage: %w", err)
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// initSQLite resolves path and makes sure its directory exists.
func initSQLite(path string) (*SQLiteStorage, error) {
	if path == "" {
		path = config.DefaultSQLitePath
	}
	if path == memoryPath {
		return NewSQLiteStorage(path)
	}

	// Expand home directory
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	return NewSQLiteStorage(path)
}

// RunRetention deactivates snapshots older than retentionDays once a day
// until ctx is cancelled. A non-positive retentionDays returns immediately.
func RunRetention(ctx context.Context, store SnapshotStore, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	sweep := func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		cutoff := CalendarDate(time.Now()).AddDate(0, 0, -retentionDays)
		if _, err := store.DeactivateSnapshotsBefore(runCtx, cutoff); err != nil {
			log.WithError(err).Error("Failed to apply snapshot retention")
		}
	}

	log.WithField("retention_days", retentionDays).Info("Snapshot retention job started")
	sweep()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
