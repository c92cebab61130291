// Package search persists and executes saved searches: named criteria
// trees stored as JSON and rehydrated into specifications on demand.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sieve-backend/internal/spec"
	"sieve-backend/internal/store"
)

// SavedSearch is a named, persisted criteria tree scoped to one entity.
type SavedSearch struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	Name      string         `json:"name"`
	Criteria  *spec.Criteria `json:"criteria"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
}

var ErrDuplicateName = errors.New("saved search name already exists for entity")

// Repository stores saved searches in the _saved_searches system table.
type Repository struct {
	store *store.Store
}

func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// Create inserts a saved search, assigning its id.
func (r *Repository) Create(ctx context.Context, s *SavedSearch) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	criteriaJSON, err := json.Marshal(s.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}

	d := r.store.Dialect
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _saved_searches (id, entity, name, criteria, created_by) VALUES (%s, %s, %s, %s, %s)",
		pb.Add(s.ID), pb.Add(s.Entity), pb.Add(s.Name), pb.Add(string(criteriaJSON)), pb.Add(nullable(s.CreatedBy)),
	)
	if _, err := store.Exec(ctx, r.store.DB, sqlStr, pb.Params()...); err != nil {
		if errors.Is(d.MapError(err), store.ErrUniqueViolation) {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert saved search: %w", err)
	}
	return nil
}

// Get loads one saved search by id.
func (r *Repository) Get(ctx context.Context, id string) (*SavedSearch, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, entity, name, criteria, created_by, created_at, updated_at FROM _saved_searches WHERE id = %s",
		pb.Add(id),
	)
	row, err := store.QueryRow(ctx, r.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	return scanSavedSearch(row)
}

// List returns saved searches, optionally restricted to one entity,
// newest first.
func (r *Repository) List(ctx context.Context, entity string) ([]*SavedSearch, error) {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := "SELECT id, entity, name, criteria, created_by, created_at, updated_at FROM _saved_searches"
	if entity != "" {
		sqlStr += fmt.Sprintf(" WHERE entity = %s", pb.Add(entity))
	}
	sqlStr += " ORDER BY created_at DESC"

	rows, err := store.QueryRows(ctx, r.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}

	searches := make([]*SavedSearch, 0, len(rows))
	for _, row := range rows {
		s, err := scanSavedSearch(row)
		if err != nil {
			return nil, err
		}
		searches = append(searches, s)
	}
	return searches, nil
}

// Delete removes a saved search. Returns store.ErrNotFound when absent.
func (r *Repository) Delete(ctx context.Context, id string) error {
	pb := r.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM _saved_searches WHERE id = %s", pb.Add(id))
	n, err := store.Exec(ctx, r.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete saved search: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// scanSavedSearch rehydrates a row, including the criteria JSON. The
// rehydrated criteria must behave identically to the stored one; the tree
// is plain data, so decoding is the whole round trip.
func scanSavedSearch(row map[string]any) (*SavedSearch, error) {
	s := &SavedSearch{
		ID:     asString(row["id"]),
		Entity: asString(row["entity"]),
		Name:   asString(row["name"]),
	}
	if v := row["created_by"]; v != nil {
		s.CreatedBy = asString(v)
	}
	if t, ok := row["created_at"].(time.Time); ok {
		s.CreatedAt = t
	}
	if t, ok := row["updated_at"].(time.Time); ok {
		s.UpdatedAt = t
	}

	raw := asString(row["criteria"])
	if raw != "" && raw != "{}" {
		var c spec.Criteria
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decode criteria for %s: %w", s.ID, err)
		}
		s.Criteria = &c
	}
	return s, nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
