// Package poller drives reconciliation cycles on a fixed cadence per table.
package poller

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/dispatchd/internal/engine"
)

// Cycler runs one reconciliation pass over a table.
type Cycler interface {
	Cycle(ctx context.Context, table string) (engine.Report, error)
}

// Poller runs one sequential loop per table. A tick that arrives while a
// cycle is still running is dropped, so cycles of one table never overlap.
type Poller struct {
	cycler   Cycler
	interval time.Duration
	logger   *slog.Logger
	tables   []string
	nudges   map[string]chan struct{}
}

// New creates a Poller for tables.
func New(cycler Cycler, interval time.Duration, logger *slog.Logger, tables ...string) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		cycler:   cycler,
		interval: interval,
		logger:   logger,
		tables:   tables,
		nudges:   make(map[string]chan struct{}, len(tables)),
	}
	for _, t := range tables {
		p.nudges[t] = make(chan struct{}, 1)
	}
	return p
}

// Nudge asks every table to run a cycle as soon as its current one finishes.
// Pending nudges coalesce.
func (p *Poller) Nudge() {
	for _, ch := range p.nudges {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run polls every table until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller: started",
		slog.Any("tables", p.tables),
		slog.Duration("interval", p.interval))

	g, ctx := errgroup.WithContext(ctx)
	for _, table := range p.tables {
		g.Go(func() error {
			p.loop(ctx, table)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("poller: stopped")
	return err
}

func (p *Poller) loop(ctx context.Context, table string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runCycle(ctx, table)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.nudges[table]:
		}
		p.runCycle(ctx, table)
	}
}

func (p *Poller) runCycle(ctx context.Context, table string) {
	if ctx.Err() != nil {
		return
	}
	report, err := p.cycler.Cycle(ctx, table)
	if err != nil {
		p.logger.Error("poller: cycle failed",
			slog.String("table", table),
			slog.String("error", err.Error()))
		return
	}
	if report.Detected > 0 {
		p.logger.Info("poller: cycle",
			slog.String("table", table),
			slog.Int("detected", report.Detected),
			slog.Int("advanced", report.Advanced()),
			slog.Int("failed", report.Failed()))
	}
}
