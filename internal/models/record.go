// Package models defines the record types shared by the store, the engine and the operator surfaces.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
)

// Internal field names the engine relies on for every table.
const (
	FieldStatus   = "status"
	FieldTicketID = "ticketID"
)

// MetaLastSeenStatus is the reserved meta key holding the per-record cursor.
const MetaLastSeenStatus = "lastSeenStatus"

// Fields holds the business fields of a record keyed by field name.
type Fields map[string]any

// Status returns the raw status value, or nil when the record has none.
// A cleared select field arrives as "" and counts as no status.
func (f Fields) Status() any {
	if s, ok := f[FieldStatus].(string); ok && s == "" {
		return nil
	}
	return f[FieldStatus]
}

// String returns the field as a string, or "" when absent or not a string.
func (f Fields) String(name string) string {
	s, _ := f[name].(string)
	return s
}

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	return maps.Clone(f)
}

// Meta is the engine-owned metadata blob stored alongside each record.
// It is serialized as a single JSON object string.
type Meta map[string]any

// Empty reports whether no meta keys have been written yet.
func (m Meta) Empty() bool {
	return len(m) == 0
}

// LastSeenStatus returns the cursor and whether the key is present.
func (m Meta) LastSeenStatus() (any, bool) {
	v, ok := m[MetaLastSeenStatus]
	return v, ok
}

// String returns a string meta value, or "" when absent or not a string.
func (m Meta) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Clone returns a shallow copy; a nil Meta clones to an empty one.
func (m Meta) Clone() Meta {
	if m == nil {
		return Meta{}
	}
	return maps.Clone(m)
}

// Value implements driver.Valuer.
func (m Meta) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, fmt.Errorf("models: encode meta: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Meta) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Meta{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("models: cannot scan %T into Meta", src)
	}
	parsed, err := ParseMeta(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMeta decodes a serialized meta blob. Blank input yields an empty Meta.
func ParseMeta(raw []byte) (Meta, error) {
	if len(raw) == 0 {
		return Meta{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("models: decode meta: %w", err)
	}
	if out == nil {
		return Meta{}, nil
	}
	return Meta(out), nil
}

// Record is one row of a table in the record store.
type Record struct {
	ID     string `json:"id"`
	Fields Fields `json:"fields"`
	Meta   Meta   `json:"meta"`
}

// TicketID returns the human-assigned ticket identifier, if any.
func (r Record) TicketID() string {
	return r.Fields.String(FieldTicketID)
}

// Filter is a conjunction of field-equals terms. Values must come from
// trusted internal data, never from free-form user text.
type Filter map[string]any

// SameValue compares two field values strictly: dynamic types must match,
// so "1" and 1.0 are different values.
func SameValue(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
