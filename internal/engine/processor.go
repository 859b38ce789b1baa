package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/storage"
)

// Outcome is the settled result of processing one record.
type Outcome struct {
	Table    string  `json:"table"`
	RecordID string  `json:"record_id"`
	TicketID string  `json:"ticket_id,omitempty"`
	Status   any     `json:"status"`
	Advanced bool    `json:"advanced"`
	Written  bool    `json:"written"`
	Errors   []error `json:"-"`
}

// Failed reports whether any handler, lookup or write failed for the record.
func (o Outcome) Failed() bool {
	return len(o.Errors) > 0
}

// ErrorMessages returns the failure messages for display.
func (o Outcome) ErrorMessages() []string {
	out := make([]string, len(o.Errors))
	for i, err := range o.Errors {
		out[i] = err.Error()
	}
	return out
}

// Processor runs dispatch handlers for changed records and persists the merged cursor.
type Processor struct {
	store          storage.Provider
	logger         *slog.Logger
	maxConcurrency int
	recordTimeout  time.Duration
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMaxConcurrency caps how many records are processed at once. Zero means unbounded.
func WithMaxConcurrency(n int) ProcessorOption {
	return func(p *Processor) {
		p.maxConcurrency = n
	}
}

// WithRecordTimeout bounds the handler phase of each record. Zero disables the bound.
func WithRecordTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		p.recordTimeout = d
	}
}

// NewProcessor creates a Processor that persists through store.
func NewProcessor(store storage.Provider, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{store: store, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles every record concurrently and returns one outcome per
// record, in input order. It never fails as a whole.
func (p *Processor) Process(ctx context.Context, table string, records []models.Record, dispatch DispatchTable) []Outcome {
	outcomes := make([]Outcome, len(records))

	var g errgroup.Group
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for i, rec := range records {
		g.Go(func() error {
			outcomes[i] = p.processRecord(ctx, table, rec, dispatch)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

type handlerResult struct {
	update *Update
	err    error
}

func (p *Processor) processRecord(ctx context.Context, table string, rec models.Record, dispatch DispatchTable) Outcome {
	status := rec.Fields.Status()
	out := Outcome{
		Table:    table,
		RecordID: rec.ID,
		TicketID: rec.TicketID(),
		Status:   status,
	}

	handlers, err := dispatch.Lookup(status)
	if err != nil {
		out.Errors = append(out.Errors, annotate(err, table, rec, ""))
		p.logOutcome(out)
		return out
	}

	results := p.runHandlers(ctx, table, rec, handlers)

	meta := rec.Meta.Clone()
	delta := models.Fields{}
	for i, res := range results {
		if res.err != nil {
			out.Errors = append(out.Errors, annotate(res.err, table, rec, handlers[i].Name))
			continue
		}
		if res.update == nil {
			continue
		}
		// Configured order wins on collision: later handlers overwrite earlier ones.
		for k, v := range res.update.Meta {
			if k == models.MetaLastSeenStatus {
				continue
			}
			meta[k] = v
		}
		for k, v := range res.update.Fields {
			delta[k] = v
		}
	}

	if !out.Failed() {
		meta[models.MetaLastSeenStatus] = status
		out.Advanced = true
	}

	if !out.Advanced && len(delta) == 0 && models.SameValue(map[string]any(meta), map[string]any(rec.Meta.Clone())) {
		p.logOutcome(out)
		return out
	}

	var fieldDelta models.Fields
	if len(delta) > 0 {
		fieldDelta = delta
	}
	if _, err := p.store.UpdateFields(ctx, table, rec.ID, fieldDelta, meta); err != nil {
		out.Advanced = false
		out.Errors = append(out.Errors, annotate(NewExternalError("persist meta", err), table, rec, ""))
	} else {
		out.Written = true
	}

	p.logOutcome(out)
	return out
}

// runHandlers runs every handler concurrently and waits for all of them.
// Results are indexed by handler position so merge order never depends on
// completion order.
func (p *Processor) runHandlers(ctx context.Context, table string, rec models.Record, handlers []Handler) []handlerResult {
	if p.recordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.recordTimeout)
		defer cancel()
	}

	results := make([]handlerResult, len(handlers))
	var g errgroup.Group
	for i, h := range handlers {
		g.Go(func() error {
			results[i] = runHandler(ctx, h, table, rec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runHandler(ctx context.Context, h Handler, table string, rec models.Record) (res handlerResult) {
	defer func() {
		if r := recover(); r != nil {
			res = handlerResult{err: fmt.Errorf("handler panicked: %v", r)}
		}
	}()
	// Each handler gets its own copy so none can mutate what a sibling reads.
	own := models.Record{ID: rec.ID, Fields: rec.Fields.Clone(), Meta: rec.Meta.Clone()}
	update, err := h.Run(ctx, table, own)
	return handlerResult{update: update, err: err}
}

// annotate attaches record context to err, classifying unknown errors as external failures.
func annotate(err error, table string, rec models.Record, handler string) error {
	var e *Error
	if !errors.As(err, &e) {
		e = NewExternalError("handler failed", err)
	} else {
		cp := *e
		e = &cp
	}
	e.Table = table
	e.RecordID = rec.ID
	e.TicketID = rec.TicketID()
	if handler != "" {
		e.Handler = handler
	}
	return e
}

func (p *Processor) logOutcome(out Outcome) {
	attrs := []any{
		slog.String("table", out.Table),
		slog.String("record_id", out.RecordID),
		slog.String("ticket_id", out.TicketID),
		slog.Any("status", out.Status),
	}
	for _, err := range out.Errors {
		level := slog.LevelError
		if IsDeferred(err) {
			level = slog.LevelWarn
		}
		var e *Error
		errors.As(err, &e)
		p.logger.Log(context.Background(), level, "ticket handler failed",
			append(attrs,
				slog.String("code", string(e.Code)),
				slog.String("handler", e.Handler),
				slog.String("error", err.Error()))...)
	}
	if !out.Failed() {
		p.logger.Info("ticket processed", append(attrs, slog.Bool("written", out.Written))...)
	}
}
