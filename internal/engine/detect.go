package engine

import (
	"context"

	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/storage"
)

// HasChanged reports whether rec needs processing:
//   - no status and no meta: only when includeNullStatus is set
//   - meta empty, status present: always (first transition)
//   - otherwise: status differs strictly from meta's lastSeenStatus
//
// A status that reverts to an earlier value counts as a change.
func HasChanged(rec models.Record, includeNullStatus bool) bool {
	status := rec.Fields.Status()
	if rec.Meta.Empty() {
		if status == nil {
			return includeNullStatus
		}
		return true
	}
	last, _ := rec.Meta.LastSeenStatus()
	return !models.SameValue(status, last)
}

// DetectChanges filters records down to those that changed since they were
// last processed. It performs no I/O.
func DetectChanges(records []models.Record, includeNullStatus bool) []models.Record {
	var out []models.Record
	for _, rec := range records {
		if HasChanged(rec, includeNullStatus) {
			out = append(out, rec)
		}
	}
	return out
}

// Detector lists a table and applies DetectChanges.
type Detector struct {
	store storage.Provider
}

// NewDetector creates a Detector over store.
func NewDetector(store storage.Provider) *Detector {
	return &Detector{store: store}
}

// Detect returns the changed records of table. A listing failure is returned
// as-is; there is no partial result.
func (d *Detector) Detect(ctx context.Context, table string, includeNullStatus bool) ([]models.Record, error) {
	records, err := d.store.ListAll(ctx, table)
	if err != nil {
		return nil, err
	}
	return DetectChanges(records, includeNullStatus), nil
}
