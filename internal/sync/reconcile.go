package sync

import (
	"errors"

	"github.com/lawble/courtsync/internal/database"
	"github.com/lawble/courtsync/internal/store"
	"github.com/lawble/courtsync/pkg/logger"
)

// ReconcileResult reports what one reconciliation pass did. Per-item
// failures are accumulated instead of aborting the batch, so a result
// with Errors is a partial success, not a failure.
type ReconcileResult struct {
	Created    int         `json:"created"`
	Updated    int         `json:"updated"`
	Skipped    int         `json:"skipped"`
	TouchedIDs []uint      `json:"touched_ids"`
	Errors     []ItemError `json:"errors,omitempty"`
}

// ItemError identifies the hearing that failed by its composite key.
type ItemError struct {
	Date  string `json:"date"`
	Time  string `json:"time"`
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Reconciler merges remote hearing entries into local hearing records.
type Reconciler struct {
	hearings store.HearingStore
	logger   *logger.Logger
}

func NewReconciler(hearings store.HearingStore, logger *logger.Logger) *Reconciler {
	return &Reconciler{hearings: hearings, logger: logger}
}

// Reconcile upserts each remote hearing keyed by (date, time, type).
// Key fields are never mutated in place: a remote hearing whose key
// changed shows up as a new row and the stale row is left alone.
func (r *Reconciler) Reconcile(caseID string, hearings []Hearing) ReconcileResult {
	result := ReconcileResult{TouchedIDs: []uint{}}

	for _, h := range hearings {
		existing, err := r.hearings.FindByCompositeKey(caseID, h.Date, h.Time, h.Type)

		switch {
		case err == nil:
			if existing.Location == h.Location && existing.Result == h.Result {
				result.Skipped++
				continue
			}

			existing.Location = h.Location
			existing.Result = h.Result
			if err := r.hearings.Update(existing); err != nil {
				r.recordError(&result, h, err)
				continue
			}
			result.Updated++
			result.TouchedIDs = append(result.TouchedIDs, existing.ID)

		case errors.Is(err, store.ErrNotFound):
			record := &database.HearingRecord{
				CaseID:   caseID,
				Date:     h.Date,
				Time:     h.Time,
				Type:     h.Type,
				Location: h.Location,
				Result:   h.Result,
				Source:   database.SourceSynced,
			}
			if err := r.hearings.Insert(record); err != nil {
				r.recordError(&result, h, err)
				continue
			}
			result.Created++
			result.TouchedIDs = append(result.TouchedIDs, record.ID)

		default:
			r.recordError(&result, h, err)
		}
	}

	return result
}

func (r *Reconciler) recordError(result *ReconcileResult, h Hearing, err error) {
	r.logger.Warn("Hearing upsert failed",
		"date", h.Date,
		"time", h.Time,
		"type", h.Type,
		"error", err,
	)
	result.Errors = append(result.Errors, ItemError{
		Date:  h.Date,
		Time:  h.Time,
		Type:  h.Type,
		Error: err.Error(),
	})
}
