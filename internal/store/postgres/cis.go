package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// CreateCI inserts a new CI row.
func (s *Store) CreateCI(ctx context.Context, ci *domain.CI) error {
	attrs, err := json.Marshal(ci.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO cis (id, name, ci_type, source, owner, status, attributes, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ci.ID, ci.Name, ci.CIType, ci.Source, ci.Owner, string(ci.Status), attrs, ci.LastSeenAt, ci.CreatedAt, ci.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert ci: %w", err)
	}
	return nil
}

// UpdateCI overwrites the mutable fields of an existing CI row.
func (s *Store) UpdateCI(ctx context.Context, ci *domain.CI) error {
	attrs, err := json.Marshal(ci.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE cis SET name=$2, ci_type=$3, source=$4, owner=$5, status=$6, attributes=$7, last_seen_at=$8, updated_at=$9
		WHERE id=$1`,
		ci.ID, ci.Name, ci.CIType, ci.Source, ci.Owner, string(ci.Status), attrs, ci.LastSeenAt, ci.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update ci: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const ciColumns = "id, name, ci_type, source, owner, status, attributes, last_seen_at, created_at, updated_at"

func scanCI(row pgx.Row) (*domain.CI, error) {
	var ci domain.CI
	var attrs []byte
	var owner *string
	var status string

	if err := row.Scan(&ci.ID, &ci.Name, &ci.CIType, &ci.Source, &owner, &status, &attrs, &ci.LastSeenAt, &ci.CreatedAt, &ci.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan ci: %w", err)
	}

	ci.Owner = owner
	ci.Status = domain.CIStatus(status)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &ci.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return &ci, nil
}

// GetCI loads a CI by primary key.
func (s *Store) GetCI(ctx context.Context, id string) (*domain.CI, error) {
	row := s.db.QueryRow(ctx, "SELECT "+ciColumns+" FROM cis WHERE id=$1", id)
	return scanCI(row)
}

// FindCIByIdentity resolves a CI through one of its (scheme, value) identities.
func (s *Store) FindCIByIdentity(ctx context.Context, scheme, value string) (*domain.CI, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+ciColumns+` FROM cis
		WHERE id = (SELECT ci_id FROM identities WHERE scheme=$1 AND value=$2)`, scheme, value)
	return scanCI(row)
}

// ListCIs returns CIs matching filter, newest-updated first.
func (s *Store) ListCIs(ctx context.Context, filter store.CIFilter) ([]*domain.CI, error) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		clauses = append(clauses, "status = "+arg(filter.Status))
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = "+arg(filter.Source))
	}
	if filter.Owner != "" {
		clauses = append(clauses, "owner = "+arg(filter.Owner))
	}
	if filter.CIType != "" {
		clauses = append(clauses, "ci_type = "+arg(filter.CIType))
	}
	if filter.Query != "" {
		clauses = append(clauses, "name ILIKE "+arg("%"+filter.Query+"%"))
	}

	query := "SELECT " + ciColumns + " FROM cis"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cis: %w", err)
	}
	defer rows.Close()

	var out []*domain.CI
	for rows.Next() {
		ci, err := scanCI(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}
