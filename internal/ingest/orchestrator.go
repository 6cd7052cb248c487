package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/config"
	"github.com/baroque-dev/baroque/internal/persistence"
	"github.com/baroque-dev/baroque/internal/usagesource"
)

// UsageSource returns raw usage records for a time window.
type UsageSource interface {
	FetchUsage(ctx context.Context, start, end time.Time, width usagesource.BucketWidth) ([]usagesource.RawRecord, error)
}

// Outcome classifies how an ingestion run ended.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeNoIdentities means no developer is registered; the source was not called.
	OutcomeNoIdentities
	// OutcomeNotConfigured means the source has no admin key.
	OutcomeNotConfigured
	// OutcomeSourceUnavailable means the source failed; nothing was written.
	OutcomeSourceUnavailable
	// OutcomePartial means some snapshot writes failed.
	OutcomePartial
	// OutcomePersistenceFailure means registered developers could not be listed.
	OutcomePersistenceFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNoIdentities:
		return "no_identities"
	case OutcomeNotConfigured:
		return "not_configured"
	case OutcomeSourceUnavailable:
		return "source_unavailable"
	case OutcomePartial:
		return "partial"
	case OutcomePersistenceFailure:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

// Result reports one ingestion run. Written is the number of snapshots
// reconciled; Err holds the cause when Outcome is not OK.
type Result struct {
	Outcome Outcome
	Written int
	Failed  int
	Err     error
}

// Orchestrator runs ingestion passes against the usage source.
type Orchestrator struct {
	source       UsageSource
	developers   persistence.DeveloperStore
	reconciler   *Reconciler
	lookbackDays int
	now          func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLookbackDays sets how many days before today each pass covers.
func WithLookbackDays(days int) Option {
	return func(o *Orchestrator) {
		if days > 0 {
			o.lookbackDays = days
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator reading from source and writing to storage.
func NewOrchestrator(source UsageSource, storage persistence.Storage, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:       source,
		developers:   storage,
		reconciler:   NewReconciler(storage),
		lookbackDays: config.DefaultLookbackDays,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Window returns the fetch window: from midnight UTC lookbackDays before
// today through 24 hours past now, so the current partial day is included.
func (o *Orchestrator) Window() (start, end time.Time) {
	now := o.now().UTC()
	start = persistence.CalendarDate(now).AddDate(0, 0, -o.lookbackDays)
	end = now.Add(24 * time.Hour)
	return start, end
}

// Sweep refreshes snapshots for every registered developer. It never
// returns an error; the outcome is reported in Result and logged.
func (o *Orchestrator) Sweep(ctx context.Context) Result {
	devs, err := o.developers.ListDevelopers(ctx)
	if err != nil {
		res := Result{Outcome: OutcomePersistenceFailure, Err: err}
		logResult("sweep", "", res)
		return res
	}
	if len(devs) == 0 {
		res := Result{Outcome: OutcomeNoIdentities}
		logResult("sweep", "", res)
		return res
	}

	registered := lo.SliceToMap(devs, func(d persistence.Developer) (string, struct{}) {
		return d.APIKeyID, struct{}{}
	})

	res := o.ingest(ctx, func(t DailyTotal) bool {
		_, ok := registered[t.APIKeyID]
		return ok
	})
	logResult("sweep", "", res)
	return res
}

// FetchForIdentity refreshes snapshots for one API key, registered or not.
func (o *Orchestrator) FetchForIdentity(ctx context.Context, apiKeyID string) Result {
	res := o.ingest(ctx, func(t DailyTotal) bool {
		return t.APIKeyID == apiKeyID
	})
	logResult("fetch", apiKeyID, res)
	return res
}

func (o *Orchestrator) ingest(ctx context.Context, keep func(DailyTotal) bool) Result {
	start, end := o.Window()

	records, err := o.source.FetchUsage(ctx, start, end, usagesource.BucketHour)
	if err != nil {
		if errors.Is(err, usagesource.ErrNotConfigured) {
			return Result{Outcome: OutcomeNotConfigured, Err: err}
		}
		return Result{Outcome: OutcomeSourceUnavailable, Err: err}
	}

	totals := lo.Filter(Aggregate(records), func(t DailyTotal, _ int) bool {
		return keep(t)
	})

	written, failed := o.reconciler.ReconcileAll(ctx, totals, o.now().UTC())
	res := Result{Outcome: OutcomeOK, Written: written, Failed: failed}
	if failed > 0 {
		res.Outcome = OutcomePartial
		res.Err = errors.New("some snapshot writes failed")
	}
	return res
}

func logResult(op, apiKeyID string, res Result) {
	entry := log.WithFields(log.Fields{
		"op":      op,
		"outcome": res.Outcome.String(),
		"written": res.Written,
		"failed":  res.Failed,
	})
	if apiKeyID != "" {
		entry = entry.WithField("api_key_id", apiKeyID)
	}
	if res.Err != nil {
		entry = entry.WithError(res.Err)
	}

	switch res.Outcome {
	case OutcomeOK:
		entry.Info("Usage ingestion finished")
	case OutcomeNoIdentities:
		entry.Info("No registered developers, skipping usage fetch")
	case OutcomeNotConfigured:
		entry.Warn("Admin API key not configured, skipping usage fetch")
	default:
		entry.Error("Usage ingestion failed")
	}
}
