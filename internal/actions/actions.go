// Package actions holds the state-entry handlers for every record type and
// the dispatch tables that bind them to statuses.
package actions

import (
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/messaging"
	"github.com/starford/dispatchd/internal/storage"
)

// Logical table keys.
const (
	TableIntake         = "intake"
	TableReimbursements = "reimbursements"
	TableVolunteers     = "volunteers"
)

// Handler-owned meta keys.
const (
	MetaPostChannel           = "intakePostChannel"
	MetaPostTimestamp         = "intakePostTimestamp"
	MetaCompletedIntakeRecord = "completedIntakeRecord"
	MetaWelcomedAt            = "welcomedAt"
)

// Channels maps neighborhoods to messaging channels. It is immutable once built.
type Channels struct {
	neighborhoods map[string]string
	fallback      string
}

// NewChannels copies the neighborhood map so later edits to it have no effect.
// Neighborhood names match case-insensitively. fallback may be empty.
func NewChannels(neighborhoods map[string]string, fallback string) Channels {
	c := Channels{neighborhoods: make(map[string]string, len(neighborhoods)), fallback: fallback}
	for name, channel := range neighborhoods {
		c.neighborhoods[normalize(name)] = channel
	}
	return c
}

// Resolve returns the channel for a neighborhood, falling back to the default channel.
func (c Channels) Resolve(neighborhood string) (string, bool) {
	if ch, ok := c.neighborhoods[normalize(neighborhood)]; ok && ch != "" {
		return ch, true
	}
	if c.fallback != "" {
		return c.fallback, true
	}
	return "", false
}

// Neighborhoods returns a copy of the configured mapping.
func (c Channels) Neighborhoods() map[string]string {
	return maps.Clone(c.neighborhoods)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Actions carries the dependencies every handler shares.
type Actions struct {
	store     storage.Provider
	messenger messaging.Messenger
	channels  Channels
	logger    *slog.Logger
	now       func() time.Time
}

// New returns handlers that read and write through store, which must address
// logical tables and internal field names.
func New(store storage.Provider, messenger messaging.Messenger, channels Channels, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{
		store:     store,
		messenger: messenger,
		channels:  channels,
		logger:    logger,
		now:       time.Now,
	}
}

// Tables returns the engine configuration for every record type.
func (a *Actions) Tables(includeNullStatus bool) []engine.Table {
	return []engine.Table{
		{Name: TableIntake, Dispatch: a.Intake(), IncludeNullStatus: includeNullStatus},
		{Name: TableReimbursements, Dispatch: a.Reimbursements(), IncludeNullStatus: includeNullStatus},
		{Name: TableVolunteers, Dispatch: a.Volunteers(), IncludeNullStatus: includeNullStatus},
	}
}

// Lifecycle lists the statuses of every record type with the handlers each one runs.
func (a *Actions) Lifecycle() map[string]map[string][]string {
	out := make(map[string]map[string][]string)
	for _, t := range a.Tables(false) {
		states := make(map[string][]string)
		for _, status := range t.Dispatch.Statuses() {
			if status == engine.NoStatus {
				continue
			}
			names := []string{}
			for _, h := range t.Dispatch[status] {
				names = append(names, h.Name)
			}
			states[status] = names
		}
		out[t.Name] = states
	}
	return out
}
