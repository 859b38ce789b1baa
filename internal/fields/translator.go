// Package fields translates between the record store's human-authored
// column names and the internal field names the engine uses.
package fields

import (
	"fmt"
	"maps"
	"slices"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/models"
)

// Schema describes one logical table: its name in the store and the
// internal-to-column mapping. Fields without a mapping pass through unchanged.
type Schema struct {
	Table   string
	Columns map[string]string
}

type table struct {
	name     string
	toColumn map[string]string
	toField  map[string]string
}

// Translator is an immutable set of table schemas keyed by logical table name.
type Translator struct {
	tables map[string]table
}

// NewTranslator builds a Translator. Two internal fields mapped to the same
// column in one table is a configuration error.
func NewTranslator(schemas map[string]Schema) (*Translator, error) {
	t := &Translator{tables: make(map[string]table, len(schemas))}
	for key, s := range schemas {
		if s.Table == "" {
			return nil, fmt.Errorf("fields: table %q has no store name", key)
		}
		tb := table{
			name:     s.Table,
			toColumn: make(map[string]string, len(s.Columns)),
			toField:  make(map[string]string, len(s.Columns)),
		}
		for field, column := range s.Columns {
			if prev, dup := tb.toField[column]; dup {
				return nil, fmt.Errorf("fields: table %q maps both %q and %q to column %q", key, prev, field, column)
			}
			tb.toColumn[field] = column
			tb.toField[column] = field
		}
		t.tables[key] = tb
	}
	return t, nil
}

// Tables returns the logical table names in sorted order.
func (t *Translator) Tables() []string {
	return slices.Sorted(maps.Keys(t.tables))
}

// StoreTable returns the store-side name of a logical table.
func (t *Translator) StoreTable(key string) (string, error) {
	tb, ok := t.tables[key]
	if !ok {
		return "", fmt.Errorf("fields: %q: %w", key, apperr.ErrUnknownTable)
	}
	return tb.name, nil
}

// Column returns the store column for an internal field name.
func (t *Translator) Column(key, field string) string {
	if c, ok := t.tables[key].toColumn[field]; ok {
		return c
	}
	return field
}

// ToInternal renames store columns to internal field names.
func (t *Translator) ToInternal(key string, in models.Fields) models.Fields {
	tb := t.tables[key]
	out := make(models.Fields, len(in))
	for column, v := range in {
		if field, ok := tb.toField[column]; ok {
			out[field] = v
			continue
		}
		out[column] = v
	}
	return out
}

// ToStore renames internal field names to store columns.
func (t *Translator) ToStore(key string, in models.Fields) models.Fields {
	if in == nil {
		return nil
	}
	tb := t.tables[key]
	out := make(models.Fields, len(in))
	for field, v := range in {
		if column, ok := tb.toColumn[field]; ok {
			out[column] = v
			continue
		}
		out[field] = v
	}
	return out
}
