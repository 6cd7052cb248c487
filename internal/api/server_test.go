package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/baroque-dev/baroque/internal/api/handlers/baroque"
	"github.com/baroque-dev/baroque/internal/config"
	"github.com/baroque-dev/baroque/internal/ingest"
	"github.com/baroque-dev/baroque/internal/leaderboard"
	"github.com/baroque-dev/baroque/internal/persistence"
	"github.com/baroque-dev/baroque/internal/registry"
)

func newTestServer(t *testing.T) (*Server, *persistence.SQLiteStorage) {
	t.Helper()
	storage, err := persistence.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	orch := ingest.NewOrchestrator(&emptySource{}, storage)
	h := baroque.NewHandler(leaderboard.NewEngine(storage), registry.NewService(storage, orch), orch)

	cfg := config.Default()
	cfg.FrontendURL = "https://board.example.com"
	return NewServer(cfg, h), storage
}

func TestServerCompressesResponses(t *testing.T) {
	srv, storage := newTestServer(t)

	// Enough rows to exceed the gzip handler's minimum size.
	for i := 0; i < 40; i++ {
		err := storage.UpsertSnapshot(context.Background(), persistence.UsageSnapshot{
			APIKeyID:  fmt.Sprintf("apikey_%03d_developer", i),
			Date:      time.Now(),
			Model:     "claude-sonnet-4",
			Counters:  persistence.Counters{OutputTokens: int64(i)},
			FetchedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("Failed to store snapshot: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard?period=day", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("Expected gzip encoding, got %q", got)
	}

	zr, err := gzip.NewReader(w.Body)
	if err != nil {
		t.Fatalf("Failed to open gzip body: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("Failed to read gzip body: %v", err)
	}

	var resp baroque.LeaderboardResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if got := len(resp.Categories["wordsmith"]); got != 40 {
		t.Errorf("Expected 40 wordsmith entries, got %d", got)
	}
}

func TestServerRegister(t *testing.T) {
	srv, storage := newTestServer(t)

	body := `{"api_key_id":"apikey_01abc","name":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if _, err := storage.GetDeveloper(context.Background(), "apikey_01abc"); err != nil {
		t.Errorf("Expected developer to be stored: %v", err)
	}
}

func TestServerCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, origin := range []string{"https://board.example.com", "http://localhost:5173", "http://localhost:9000"} {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("Expected %s to be allowed, got %q", origin, got)
		}
	}
}

func TestServerUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
