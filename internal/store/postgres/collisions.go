package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

const collisionColumns = "id, scheme, value, existing_ci_id, incoming_ci_id, status, resolution_note, resolved_at, created_at"

func scanCollision(row pgx.Row) (*domain.GovernanceCollision, error) {
	var c domain.GovernanceCollision
	var status string
	if err := row.Scan(&c.ID, &c.Scheme, &c.Value, &c.ExistingCIID, &c.IncomingCIID, &status, &c.ResolutionNote, &c.ResolvedAt, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan collision: %w", err)
	}
	c.Status = domain.CollisionStatus(status)
	return &c, nil
}

// CreateCollision inserts an OPEN collision row. The partial unique index
// on (scheme, value, existing_ci_id, incoming_ci_id) WHERE status='OPEN'
// makes this idempotent: a duplicate insert reports created=false instead
// of erroring, mirroring _create_collision's look-before-insert behavior
// without the race a separate SELECT-then-INSERT would have.
func (s *Store) CreateCollision(ctx context.Context, collision *domain.GovernanceCollision) (bool, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO governance_collisions (id, scheme, value, existing_ci_id, incoming_ci_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'OPEN', $6)`,
		collision.ID, collision.Scheme, collision.Value, collision.ExistingCIID, collision.IncomingCIID, collision.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("insert collision: %w", err)
	}
	return true, nil
}

// FindOpenCollision looks up the OPEN collision for this exact tuple, if any.
func (s *Store) FindOpenCollision(ctx context.Context, scheme, value, existingCIID, incomingCIID string) (*domain.GovernanceCollision, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+collisionColumns+` FROM governance_collisions
		WHERE scheme=$1 AND value=$2 AND existing_ci_id=$3 AND incoming_ci_id=$4 AND status='OPEN'`,
		scheme, value, existingCIID, incomingCIID)
	return scanCollision(row)
}

// GetCollision loads a collision by ID.
func (s *Store) GetCollision(ctx context.Context, id string) (*domain.GovernanceCollision, error) {
	row := s.db.QueryRow(ctx, "SELECT "+collisionColumns+" FROM governance_collisions WHERE id=$1", id)
	return scanCollision(row)
}

// ListCollisions lists collisions filtered by status ("open"|"resolved"|"all").
func (s *Store) ListCollisions(ctx context.Context, filter store.CollisionFilter) ([]*domain.GovernanceCollision, error) {
	query := "SELECT " + collisionColumns + " FROM governance_collisions"
	var args []any

	switch filter.Status {
	case "open":
		query += " WHERE status = $1"
		args = append(args, string(domain.CollisionOpen))
	case "resolved":
		query += " WHERE status = $1"
		args = append(args, string(domain.CollisionResolved))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list collisions: %w", err)
	}
	defer rows.Close()

	var out []*domain.GovernanceCollision
	for rows.Next() {
		c, err := scanCollision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolveCollision transitions an OPEN collision to RESOLVED.
func (s *Store) ResolveCollision(ctx context.Context, id, note string, resolvedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE governance_collisions SET status='RESOLVED', resolution_note=$2, resolved_at=$3
		WHERE id=$1 AND status='OPEN'`, id, note, resolvedAt)
	if err != nil {
		return fmt.Errorf("resolve collision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

// ReopenCollision transitions a RESOLVED collision back to OPEN.
func (s *Store) ReopenCollision(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE governance_collisions SET status='OPEN', resolution_note=NULL, resolved_at=NULL
		WHERE id=$1 AND status='RESOLVED'`, id)
	if err != nil {
		return fmt.Errorf("reopen collision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}
