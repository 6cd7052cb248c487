package ingest

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/baroque-dev/baroque/internal/persistence"
)

// Reconciler writes daily totals as snapshots, replacing any stored values.
type Reconciler struct {
	store persistence.SnapshotStore
}

// NewReconciler creates a reconciler backed by store.
func NewReconciler(store persistence.SnapshotStore) *Reconciler {
	return &Reconciler{store: store}
}

// Reconcile replaces the snapshot for total's key with total's counters and
// fetchedAt. Running it twice with the same input leaves the same row.
func (r *Reconciler) Reconcile(ctx context.Context, total DailyTotal, fetchedAt time.Time) error {
	snapshot := persistence.UsageSnapshot{
		APIKeyID:  total.APIKeyID,
		Date:      total.Date,
		Model:     total.Model,
		Counters:  total.Counters,
		FetchedAt: fetchedAt,
	}
	if err := r.store.UpsertSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to reconcile %s/%s/%s: %w",
			total.APIKeyID, total.Model, total.Date.Format(persistence.DateLayout), err)
	}
	return nil
}

// ReconcileAll reconciles every total. A failed write is logged and counted
// but does not stop the rest of the batch.
func (r *Reconciler) ReconcileAll(ctx context.Context, totals []DailyTotal, fetchedAt time.Time) (written, failed int) {
	for _, total := range totals {
		if err := r.Reconcile(ctx, total, fetchedAt); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"api_key_id": total.APIKeyID,
				"model":      total.Model,
				"date":       total.Date.Format(persistence.DateLayout),
			}).Error("Failed to write usage snapshot")
			failed++
			continue
		}
		written++
	}
	return written, failed
}
