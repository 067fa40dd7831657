package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore keeps every entity in a single jsonb-backed records table.
// Uniqueness is enforced by the (entity, id) primary key plus partial unique
// indexes on the dedup fields; see EnsureSchema in internal/database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// fieldNamePattern constrains the json field names spliced into queries;
// values always travel as bind parameters.
var fieldNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func (s *PostgresStore) Filter(ctx context.Context, entity string, where map[string]string, opts *FilterOptions) ([]Record, error) {
	query := "SELECT data FROM records WHERE entity = $1"
	args := []any{entity}

	// Deterministic clause order keeps query plans and tests stable.
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !fieldNamePattern.MatchString(k) {
			return nil, fmt.Errorf("filter %s: invalid field name %q", entity, k)
		}
		args = append(args, where[k])
		query += fmt.Sprintf(" AND data->>'%s' = $%d", k, len(args))
	}

	if opts != nil && opts.OrderBy != "" {
		if !fieldNamePattern.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("filter %s: invalid order field %q", entity, opts.OrderBy)
		}
		query += fmt.Sprintf(" ORDER BY data->>'%s'", opts.OrderBy)
		if opts.Descending {
			query += " DESC"
		}
	}
	if opts != nil && opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", entity, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("filter %s: %w", entity, err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("filter %s: %w", entity, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, entity string, rec Record) (Record, error) {
	id := rec.ID()
	if id == "" {
		id = uuid.NewString()
	}

	// The jsonb document carries the id too so filters can address it.
	out := make(Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	out["id"] = id

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", entity, err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO records (entity, id, data) VALUES ($1, $2, $3)",
		entity, id, raw)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create %s: %w", entity, err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, entity string, id string, patch map[string]any) (Record, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", entity, id, err)
	}

	// jsonb || performs the shallow merge the contract promises.
	var merged []byte
	err = s.db.QueryRowContext(ctx,
		"UPDATE records SET data = data || $3::jsonb, updated_at = now() WHERE entity = $1 AND id = $2 RETURNING data",
		entity, id, raw).Scan(&merged)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update %s/%s: %w", entity, id, err)
	}

	var rec Record
	if err := json.Unmarshal(merged, &rec); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", entity, id, err)
	}
	return rec, nil
}

func (s *PostgresStore) Remove(ctx context.Context, entity string, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM records WHERE entity = $1 AND id = $2", entity, id)
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", entity, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove %s/%s: %w", entity, id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// sqlmock and wrapped drivers don't produce *pq.Error.
	return strings.Contains(err.Error(), "duplicate key")
}
