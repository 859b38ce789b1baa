// Package recordservice exposes the record store and the reconciler to the
// operator surfaces (HTTP API and MCP).
package recordservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/fields"
	"github.com/starford/dispatchd/internal/models"
)

// TableInfo describes one polled table.
type TableInfo struct {
	Name              string   `json:"name"`
	StoreTable        string   `json:"store_table"`
	Statuses          []string `json:"statuses"`
	IncludeNullStatus bool     `json:"include_null_status"`
}

// RecordDetail is the operator view of a record.
type RecordDetail struct {
	ID             string        `json:"id"`
	Table          string        `json:"table"`
	TicketID       string        `json:"ticket_id,omitempty"`
	Status         any           `json:"status"`
	LastSeenStatus any           `json:"last_seen_status"`
	Pending        bool          `json:"pending"`
	Version        string        `json:"version"`
	Fields         models.Fields `json:"fields"`
	Meta           models.Meta   `json:"meta"`
}

// Service coordinates the translated store and the reconciler.
type Service struct {
	store      *fields.Store
	reconciler *engine.Reconciler
}

// NewService creates a new record service.
func NewService(store *fields.Store, reconciler *engine.Reconciler) *Service {
	return &Service{store: store, reconciler: reconciler}
}

// ListTables returns every polled table with its status lifecycle.
func (s *Service) ListTables(_ context.Context) ([]TableInfo, error) {
	names := s.reconciler.Tables()
	out := make([]TableInfo, 0, len(names))
	for _, name := range names {
		t, err := s.reconciler.Table(name)
		if err != nil {
			return nil, err
		}
		storeTable, err := s.store.Translator().StoreTable(name)
		if err != nil {
			return nil, err
		}
		statuses := []string{}
		for _, st := range t.Dispatch.Statuses() {
			if st != engine.NoStatus {
				statuses = append(statuses, st)
			}
		}
		out = append(out, TableInfo{
			Name:              name,
			StoreTable:        storeTable,
			Statuses:          statuses,
			IncludeNullStatus: t.IncludeNullStatus,
		})
	}
	return out, nil
}

// ListRecords returns a page of a table, optionally restricted to one status.
func (s *Service) ListRecords(ctx context.Context, table, status string, limit, offset int) ([]RecordDetail, int, error) {
	t, err := s.reconciler.Table(table)
	if err != nil {
		return nil, 0, err
	}

	var recs []models.Record
	if status != "" {
		recs, err = s.store.ListWithFilter(ctx, table, models.Filter{models.FieldStatus: status})
	} else {
		recs, err = s.store.ListAll(ctx, table)
	}
	if err != nil {
		return nil, 0, err
	}

	total := len(recs)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)

	items := make([]RecordDetail, 0, end-offset)
	for _, r := range recs[offset:end] {
		items = append(items, detail(t, r))
	}
	return items, total, nil
}

// GetRecord loads one record.
func (s *Service) GetRecord(ctx context.Context, table, id string) (*RecordDetail, error) {
	t, err := s.reconciler.Table(table)
	if err != nil {
		return nil, err
	}
	r, err := s.store.FindByID(ctx, table, id)
	if err != nil {
		return nil, err
	}
	d := detail(t, r)
	return &d, nil
}

// CreateRecord inserts a record the way an intake form would.
func (s *Service) CreateRecord(ctx context.Context, table string, in models.Fields) (*RecordDetail, error) {
	t, err := s.reconciler.Table(table)
	if err != nil {
		return nil, err
	}
	r, err := s.store.Create(ctx, table, in)
	if err != nil {
		return nil, err
	}
	d := detail(t, r)
	return &d, nil
}

// UpdateRecord applies a human edit to a record's fields. When ifMatch is
// non-empty it must equal the record's current version.
func (s *Service) UpdateRecord(ctx context.Context, table, id string, delta models.Fields, ifMatch string) (*RecordDetail, error) {
	t, err := s.reconciler.Table(table)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" {
		current, err := s.store.FindByID(ctx, table, id)
		if err != nil {
			return nil, err
		}
		if Version(current.Fields) != ifMatch {
			return nil, apperr.ErrConflict
		}
	}
	r, err := s.store.UpdateFields(ctx, table, id, delta, nil)
	if err != nil {
		return nil, err
	}
	d := detail(t, r)
	return &d, nil
}

// PendingChanges previews the records the next cycle of table would process.
func (s *Service) PendingChanges(ctx context.Context, table string) ([]RecordDetail, error) {
	t, err := s.reconciler.Table(table)
	if err != nil {
		return nil, err
	}
	recs, err := s.reconciler.Preview(ctx, table)
	if err != nil {
		return nil, err
	}
	items := make([]RecordDetail, len(recs))
	for i, r := range recs {
		items[i] = detail(t, r)
	}
	return items, nil
}

// RunCycle runs one reconciliation cycle of table immediately.
func (s *Service) RunCycle(ctx context.Context, table string) (engine.Report, error) {
	return s.reconciler.Cycle(ctx, table)
}

// Version returns a stable fingerprint of a record's fields for optimistic concurrency.
func Version(f models.Fields) string {
	// encoding/json sorts map keys, so equal field sets hash equally.
	b, err := json.Marshal(map[string]any(f))
	if err != nil {
		return fmt.Sprintf("unhashable:%v", err)
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func detail(t engine.Table, r models.Record) RecordDetail {
	last, _ := r.Meta.LastSeenStatus()
	f := r.Fields
	if f == nil {
		f = models.Fields{}
	}
	m := r.Meta
	if m == nil {
		m = models.Meta{}
	}
	return RecordDetail{
		ID:             r.ID,
		Table:          t.Name,
		TicketID:       r.TicketID(),
		Status:         r.Fields.Status(),
		LastSeenStatus: last,
		Pending:        engine.HasChanged(r, t.IncludeNullStatus),
		Version:        Version(f),
		Fields:         f,
		Meta:           m,
	}
}
