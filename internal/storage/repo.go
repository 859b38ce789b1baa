package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/models"
)

var recordColumns = []string{"id", "fields", "meta"}

// ListAll returns every record in table, fetched page by page in creation order.
func (s *SQLite) ListAll(ctx context.Context, table string) ([]models.Record, error) {
	if table == "" {
		return nil, fmt.Errorf("storage: list: %w", apperr.ErrUnknownTable)
	}

	var out []models.Record
	var offset uint64
	for {
		q := sq.Select(recordColumns...).
			From("records").
			Where(sq.Eq{"table_name": table}).
			OrderBy("created_at", "id").
			Limit(s.pageSize).
			Offset(offset)

		page, err := s.query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("storage: list %s: %w", table, err)
		}
		out = append(out, page...)
		if uint64(len(page)) < s.pageSize {
			return out, nil
		}
		offset += s.pageSize
	}
}

// ListWithFilter returns records whose fields equal every filter term.
func (s *SQLite) ListWithFilter(ctx context.Context, table string, filter models.Filter) ([]models.Record, error) {
	if table == "" {
		return nil, fmt.Errorf("storage: filter: %w", apperr.ErrUnknownTable)
	}

	q := sq.Select(recordColumns...).
		From("records").
		Where(sq.Eq{"table_name": table}).
		OrderBy("created_at", "id")

	// Sorted so the generated SQL is stable.
	for _, field := range slices.Sorted(maps.Keys(filter)) {
		value := filter[field]
		if value == nil {
			q = q.Where(sq.Expr("json_extract(fields, ?) IS NULL", jsonPath(field)))
			continue
		}
		q = q.Where(sq.Expr("json_extract(fields, ?) = ?", jsonPath(field), value))
	}

	out, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: filter %s: %w", table, err)
	}
	return out, nil
}

// FindByID returns the record with the given id.
func (s *SQLite) FindByID(ctx context.Context, table, id string) (models.Record, error) {
	q := sq.Select(recordColumns...).
		From("records").
		Where(sq.Eq{"table_name": table, "id": id})

	query, args, err := q.ToSql()
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: build find: %w", err)
	}
	rec, err := scanRecord(s.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("storage: %s/%s: %w", table, id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: find %s/%s: %w", table, id, err)
	}
	return rec, nil
}

// UpdateFields merges fields into the stored record and replaces meta when non-nil.
func (s *SQLite) UpdateFields(ctx context.Context, table, id string, fields models.Fields, meta models.Meta) (models.Record, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	query, args, err := sq.Select(recordColumns...).
		From("records").
		Where(sq.Eq{"table_name": table, "id": id}).
		ToSql()
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: build find: %w", err)
	}
	current, err := scanRecord(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("storage: %s/%s: %w", table, id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: load %s/%s: %w", table, id, err)
	}

	merged := current.Fields.Clone()
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	fieldsJSON, err := json.Marshal(merged)
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: encode fields: %w", err)
	}

	upd := sq.Update("records").
		Set("fields", string(fieldsJSON)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"table_name": table, "id": id})
	if meta != nil {
		upd = upd.Set("meta", meta)
		current.Meta = meta.Clone()
	}

	query, args, err = upd.ToSql()
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: build update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return models.Record{}, fmt.Errorf("storage: update %s/%s: %w", table, id, err)
	}
	if err := tx.Commit(); err != nil {
		return models.Record{}, fmt.Errorf("storage: commit: %w", err)
	}

	current.Fields = merged
	return current, nil
}

// Create inserts a record with a generated id.
func (s *SQLite) Create(ctx context.Context, table string, fields models.Fields) (models.Record, error) {
	if table == "" {
		return models.Record{}, fmt.Errorf("storage: create: %w", apperr.ErrUnknownTable)
	}
	if fields == nil {
		fields = models.Fields{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: encode fields: %w", err)
	}

	id := "rec" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	now := time.Now().UTC()
	query, args, err := sq.Insert("records").
		Columns("table_name", "id", "fields", "meta", "created_at", "updated_at").
		Values(table, id, string(fieldsJSON), "", now, now).
		ToSql()
	if err != nil {
		return models.Record{}, fmt.Errorf("storage: build insert: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return models.Record{}, fmt.Errorf("storage: insert into %s: %w", table, err)
	}

	// Round-trip through JSON so values carry the same types a later read returns.
	var stored models.Fields
	if err := json.Unmarshal(fieldsJSON, &stored); err != nil {
		return models.Record{}, fmt.Errorf("storage: decode fields: %w", err)
	}
	return models.Record{ID: id, Fields: stored, Meta: models.Meta{}}, nil
}

func (s *SQLite) query(ctx context.Context, q sq.SelectBuilder) ([]models.Record, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var (
		rec        models.Record
		fieldsJSON string
	)
	if err := row.Scan(&rec.ID, &fieldsJSON, &rec.Meta); err != nil {
		return models.Record{}, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return models.Record{}, fmt.Errorf("decode fields of %s: %w", rec.ID, err)
	}
	if rec.Fields == nil {
		rec.Fields = models.Fields{}
	}
	return rec, nil
}

// jsonPath quotes a field name as a JSON path member so column names with
// spaces or punctuation ("Ticket ID") resolve correctly.
func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}
