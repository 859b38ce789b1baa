package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/storage"
)

// Table binds a logical table to its dispatch table and detection policy.
type Table struct {
	Name              string
	Dispatch          DispatchTable
	IncludeNullStatus bool
}

// Report summarizes one detect-process-persist cycle of a table.
type Report struct {
	Table     string        `json:"table"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Detected  int           `json:"detected"`
	Outcomes  []Outcome     `json:"outcomes"`
}

// Failed counts records with at least one failure.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Advanced counts records whose cursor moved.
func (r Report) Advanced() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Advanced {
			n++
		}
	}
	return n
}

// Observer is notified after every completed cycle.
type Observer func(Report)

// Reconciler runs cycles for a fixed set of tables. Cycles of one table are
// serialized, whoever triggers them; cycles of different tables run freely.
type Reconciler struct {
	detector  *Detector
	processor *Processor
	logger    *slog.Logger
	tables    map[string]Table
	locks     map[string]*sync.Mutex
	observers []Observer
}

// NewReconciler wires detection and processing over store for tables.
func NewReconciler(store storage.Provider, processor *Processor, logger *slog.Logger, tables ...Table) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{
		detector:  NewDetector(store),
		processor: processor,
		logger:    logger,
		tables:    make(map[string]Table, len(tables)),
		locks:     make(map[string]*sync.Mutex, len(tables)),
	}
	for _, t := range tables {
		r.tables[t.Name] = t
		r.locks[t.Name] = &sync.Mutex{}
	}
	return r
}

// Observe registers fn to receive every cycle report. Not safe to call once cycles are running.
func (r *Reconciler) Observe(fn Observer) {
	r.observers = append(r.observers, fn)
}

// Tables returns the configured table names in sorted order.
func (r *Reconciler) Tables() []string {
	return slices.Sorted(maps.Keys(r.tables))
}

// Table returns the configuration of one table.
func (r *Reconciler) Table(name string) (Table, error) {
	t, ok := r.tables[name]
	if !ok {
		return Table{}, fmt.Errorf("engine: %q: %w", name, apperr.ErrUnknownTable)
	}
	return t, nil
}

// Preview returns the records the next cycle would process, without side effects.
func (r *Reconciler) Preview(ctx context.Context, name string) ([]models.Record, error) {
	t, err := r.Table(name)
	if err != nil {
		return nil, err
	}
	return r.detector.Detect(ctx, t.Name, t.IncludeNullStatus)
}

// Cycle runs one detect-process-persist pass over a table. Only a listing
// failure is returned as an error; per-record failures live in the report.
// A cycle requested while another is running on the same table waits for it,
// then detects against the cursors it wrote.
func (r *Reconciler) Cycle(ctx context.Context, name string) (Report, error) {
	t, err := r.Table(name)
	if err != nil {
		return Report{}, err
	}
	mu := r.locks[t.Name]
	mu.Lock()
	defer mu.Unlock()

	report := Report{Table: t.Name, StartedAt: time.Now()}
	changed, err := r.detector.Detect(ctx, t.Name, t.IncludeNullStatus)
	if err != nil {
		return report, fmt.Errorf("engine: detect %s: %w", t.Name, err)
	}
	report.Detected = len(changed)

	if len(changed) > 0 {
		report.Outcomes = r.processor.Process(ctx, t.Name, changed, t.Dispatch)
	}
	report.Duration = time.Since(report.StartedAt)

	r.logger.Debug("cycle completed",
		slog.String("table", t.Name),
		slog.Int("detected", report.Detected),
		slog.Int("advanced", report.Advanced()),
		slog.Int("failed", report.Failed()),
		slog.Duration("duration", report.Duration))

	for _, fn := range r.observers {
		fn(report)
	}
	return report, nil
}
