package fields

import (
	"context"

	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/storage"
)

// Store wraps a storage.Provider so callers address logical tables and
// internal field names. Meta passes through untranslated.
type Store struct {
	inner storage.Provider
	tr    *Translator
}

var _ storage.Provider = (*Store)(nil)

// NewStore returns a translating view over inner.
func NewStore(inner storage.Provider, tr *Translator) *Store {
	return &Store{inner: inner, tr: tr}
}

// Translator returns the schema set backing this view.
func (s *Store) Translator() *Translator {
	return s.tr
}

// ListAll lists a logical table.
func (s *Store) ListAll(ctx context.Context, key string) ([]models.Record, error) {
	name, err := s.tr.StoreTable(key)
	if err != nil {
		return nil, err
	}
	recs, err := s.inner.ListAll(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.toInternal(key, recs), nil
}

// ListWithFilter translates the filter's field names before querying.
func (s *Store) ListWithFilter(ctx context.Context, key string, filter models.Filter) ([]models.Record, error) {
	name, err := s.tr.StoreTable(key)
	if err != nil {
		return nil, err
	}
	storeFilter := make(models.Filter, len(filter))
	for field, v := range filter {
		storeFilter[s.tr.Column(key, field)] = v
	}
	recs, err := s.inner.ListWithFilter(ctx, name, storeFilter)
	if err != nil {
		return nil, err
	}
	return s.toInternal(key, recs), nil
}

// FindByID loads one record of a logical table.
func (s *Store) FindByID(ctx context.Context, key, id string) (models.Record, error) {
	name, err := s.tr.StoreTable(key)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := s.inner.FindByID(ctx, name, id)
	if err != nil {
		return models.Record{}, err
	}
	rec.Fields = s.tr.ToInternal(key, rec.Fields)
	return rec, nil
}

// UpdateFields writes internal field names back as store columns.
func (s *Store) UpdateFields(ctx context.Context, key, id string, delta models.Fields, meta models.Meta) (models.Record, error) {
	name, err := s.tr.StoreTable(key)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := s.inner.UpdateFields(ctx, name, id, s.tr.ToStore(key, delta), meta)
	if err != nil {
		return models.Record{}, err
	}
	rec.Fields = s.tr.ToInternal(key, rec.Fields)
	return rec, nil
}

// Create inserts a record into a logical table.
func (s *Store) Create(ctx context.Context, key string, in models.Fields) (models.Record, error) {
	name, err := s.tr.StoreTable(key)
	if err != nil {
		return models.Record{}, err
	}
	rec, err := s.inner.Create(ctx, name, s.tr.ToStore(key, in))
	if err != nil {
		return models.Record{}, err
	}
	rec.Fields = s.tr.ToInternal(key, rec.Fields)
	return rec, nil
}

func (s *Store) toInternal(key string, recs []models.Record) []models.Record {
	for i := range recs {
		recs[i].Fields = s.tr.ToInternal(key, recs[i].Fields)
	}
	return recs
}
