// Package storage defines the record store abstraction and its SQLite implementation.
package storage

import (
	"context"

	"github.com/starford/dispatchd/internal/models"
)

// Provider is the interface for record store operations. Table names and
// field names are whatever the store itself uses.
type Provider interface {
	// ListAll returns every record in table. Paging is handled internally.
	ListAll(ctx context.Context, table string) ([]models.Record, error)
	// ListWithFilter returns the records in table whose fields equal every term of filter.
	ListWithFilter(ctx context.Context, table string, filter models.Filter) ([]models.Record, error)
	// FindByID returns a single record or an error wrapping apperr.ErrNotFound.
	FindByID(ctx context.Context, table, id string) (models.Record, error)
	// UpdateFields applies a partial field delta and, when meta is non-nil,
	// replaces the meta blob. Unspecified fields are left untouched; a nil
	// value in fields clears that field.
	UpdateFields(ctx context.Context, table, id string, fields models.Fields, meta models.Meta) (models.Record, error)
	// Create inserts a new record with the given fields and an empty meta blob.
	Create(ctx context.Context, table string, fields models.Fields) (models.Record, error)
}
