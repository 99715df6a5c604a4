package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// CreateRelationship inserts a directed edge between two CIs.
func (s *Store) CreateRelationship(ctx context.Context, rel *domain.Relationship) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO relationships (id, source_ci_id, target_ci_id, relation_type, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rel.ID, rel.SourceCIID, rel.TargetCIID, rel.RelationType, rel.Source, rel.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	return nil
}

// UpdateRelationship persists a change to relation_type and/or source for an
// existing relationship row.
func (s *Store) UpdateRelationship(ctx context.Context, rel *domain.Relationship) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE relationships SET relation_type=$2, source=$3 WHERE id=$1`,
		rel.ID, rel.RelationType, rel.Source)
	if err != nil {
		return fmt.Errorf("update relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteRelationship removes a relationship by ID.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM relationships WHERE id=$1", id)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const relationshipColumns = "id, source_ci_id, target_ci_id, relation_type, source, created_at"

func scanRelationship(row pgx.Row) (*domain.Relationship, error) {
	var rel domain.Relationship
	if err := row.Scan(&rel.ID, &rel.SourceCIID, &rel.TargetCIID, &rel.RelationType, &rel.Source, &rel.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan relationship: %w", err)
	}
	return &rel, nil
}

// GetRelationship loads a relationship by ID.
func (s *Store) GetRelationship(ctx context.Context, id string) (*domain.Relationship, error) {
	row := s.db.QueryRow(ctx, "SELECT "+relationshipColumns+" FROM relationships WHERE id=$1", id)
	return scanRelationship(row)
}

// ListRelationships returns every relationship where ciID is either end.
func (s *Store) ListRelationships(ctx context.Context, ciID string) ([]*domain.Relationship, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE source_ci_id=$1 OR target_ci_id=$1
		ORDER BY created_at`, ciID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

// ListAllRelationships returns the full relationship graph, used by the
// lifecycle engine's orphan detection pass.
func (s *Store) ListAllRelationships(ctx context.Context) ([]*domain.Relationship, error) {
	rows, err := s.db.Query(ctx, "SELECT "+relationshipColumns+" FROM relationships")
	if err != nil {
		return nil, fmt.Errorf("list all relationships: %w", err)
	}
	defer rows.Close()
	return collectRelationships(rows)
}

func collectRelationships(rows pgx.Rows) ([]*domain.Relationship, error) {
	var out []*domain.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}
