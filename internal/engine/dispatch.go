package engine

import (
	"context"
	"maps"
	"slices"

	"github.com/starford/dispatchd/internal/models"
)

// NoStatus is the dispatch key for records whose status is absent. It only
// matters for tables polled with includeNullStatus.
const NoStatus = ""

// Update is a handler's contribution to the record: meta keys to merge into
// the cursor blob and, rarely, field changes to write on the same record.
type Update struct {
	Meta   models.Meta
	Fields models.Fields
}

// HandlerFunc runs the side effects for entering a state. Returning nil, nil
// means the handler deliberately did nothing and succeeded.
type HandlerFunc func(ctx context.Context, table string, rec models.Record) (*Update, error)

// Handler is a named state-entry action.
type Handler struct {
	Name string
	Run  HandlerFunc
}

// DispatchTable maps every status a table can hold to its ordered handlers.
// No-op states map to an empty list; a missing key is an unsupported status.
type DispatchTable map[string][]Handler

// Lookup returns the handlers for status.
func (d DispatchTable) Lookup(status any) ([]Handler, error) {
	var key string
	switch v := status.(type) {
	case nil:
		key = NoStatus
	case string:
		key = v
	default:
		return nil, NewUnsupportedStatusError(status)
	}
	handlers, ok := d[key]
	if !ok {
		return nil, NewUnsupportedStatusError(status)
	}
	return handlers, nil
}

// Statuses returns the configured status names in sorted order.
func (d DispatchTable) Statuses() []string {
	return slices.Sorted(maps.Keys(d))
}
