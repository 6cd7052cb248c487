package persistence

import (
	"context"
	"os"
	"testing"
)

// Set BAROQUE_TEST_POSTGRES_DSN to a disposable database to run these tests.
func TestPostgresStorageContract(t *testing.T) {
	dsn := os.Getenv("BAROQUE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BAROQUE_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	storage, err := NewPostgresStorage(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer storage.Close()

	if _, err := storage.pool.Exec(ctx, "TRUNCATE usage_snapshot, developer"); err != nil {
		t.Fatalf("Failed to reset tables: %v", err)
	}

	runStorageContract(t, storage)
}
