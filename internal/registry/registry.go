// Package registry registers developers and pulls their usage right away so
// they appear on the leaderboard without waiting for the next sweep.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/ingest"
	"github.com/baroque-dev/baroque/internal/persistence"
)

// MaxNameLength bounds developer display names, in characters.
const MaxNameLength = 100

// DefaultFetchTimeout bounds the usage fetch that follows a registration.
const DefaultFetchTimeout = 60 * time.Second

// ErrInvalidInput is returned when the key or name fails validation.
var ErrInvalidInput = errors.New("registry: invalid input")

// Fetcher pulls usage for one API key.
type Fetcher interface {
	FetchForIdentity(ctx context.Context, apiKeyID string) ingest.Result
}

// Service registers developers.
type Service struct {
	store        persistence.DeveloperStore
	fetcher      Fetcher
	fetchTimeout time.Duration
}

// NewService creates a registration service. fetcher may be nil, in which
// case no usage is pulled on registration.
func NewService(store persistence.DeveloperStore, fetcher Fetcher) *Service {
	return &Service{store: store, fetcher: fetcher, fetchTimeout: DefaultFetchTimeout}
}

// Register stores the developer, or renames the one already registered under
// apiKeyID, then fetches its usage. A failed fetch does not fail the
// registration.
func (s *Service) Register(ctx context.Context, apiKeyID, name string) (*persistence.Developer, error) {
	apiKeyID = strings.TrimSpace(apiKeyID)
	if apiKeyID == "" {
		return nil, fmt.Errorf("%w: api_key_id is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(name); n < 1 || n > MaxNameLength {
		return nil, fmt.Errorf("%w: name must be 1 to %d characters", ErrInvalidInput, MaxNameLength)
	}

	dev, err := s.store.SaveDeveloper(ctx, persistence.Developer{
		APIKeyID:     apiKeyID,
		Name:         name,
		RegisteredAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register developer: %w", err)
	}

	log.WithFields(log.Fields{
		"api_key_id": maskForLog(apiKeyID),
		"entity_id":  dev.EntityID,
	}).Info("Developer registered")

	s.fetchUsage(ctx, apiKeyID)
	return dev, nil
}

// fetchUsage runs detached from ctx so a client disconnect does not abort
// the fetch halfway.
func (s *Service) fetchUsage(ctx context.Context, apiKeyID string) {
	if s.fetcher == nil {
		return
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
	defer cancel()

	res := s.fetcher.FetchForIdentity(fetchCtx, apiKeyID)
	entry := log.WithFields(log.Fields{
		"api_key_id": maskForLog(apiKeyID),
		"outcome":    res.Outcome.String(),
		"written":    res.Written,
	})
	if res.Outcome != ingest.OutcomeOK {
		entry.WithError(res.Err).Warn("Failed to fetch usage on registration")
		return
	}
	entry.Info("Fetched usage on registration")
}

func maskForLog(apiKeyID string) string {
	if len(apiKeyID) <= 10 {
		return apiKeyID
	}
	return apiKeyID[:10] + "..."
}
