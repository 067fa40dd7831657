package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a create collides with a unique
	// constraint. Callers treat it as "already written" and move on.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned when an update or remove targets an id that
	// does not exist in the entity.
	ErrNotFound = errors.New("record not found")
)

// Record is a single document in a named collection. The "id" field is the
// record's key within its entity.
type Record map[string]any

// ID returns the record's id, or "" when unset.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// FilterOptions controls ordering and result size for Filter.
type FilterOptions struct {
	OrderBy    string
	Descending bool
	Limit      int
}

// Store is the entity-store contract the billing engine depends on: generic
// CRUD over named record collections with equality filters. Uniqueness
// enforcement lives here; the engine performs no client-side locking and
// must not assume serializability across calls.
type Store interface {
	Filter(ctx context.Context, entity string, where map[string]string, opts *FilterOptions) ([]Record, error)
	Create(ctx context.Context, entity string, rec Record) (Record, error)
	Update(ctx context.Context, entity string, id string, patch map[string]any) (Record, error)
	Remove(ctx context.Context, entity string, id string) error
}

// ToRecord converts a model struct into a Record via its json tags.
func ToRecord(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// FromRecord populates a model struct from a Record via its json tags.
func FromRecord(rec Record, v any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
