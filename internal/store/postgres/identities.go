package postgres

import (
	"context"
	"fmt"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
)

// CreateIdentity inserts an identity row. The (scheme, value) unique index
// enforces "at most one CI owns (scheme, value)" at the database level.
func (s *Store) CreateIdentity(ctx context.Context, identity *domain.Identity) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO identities (id, ci_id, scheme, value, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.CIID, identity.Scheme, identity.Value, identity.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// ListIdentitiesForCI returns every identity bound to ciID.
func (s *Store) ListIdentitiesForCI(ctx context.Context, ciID string) ([]*domain.Identity, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ci_id, scheme, value, created_at FROM identities WHERE ci_id=$1 ORDER BY created_at`, ciID)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []*domain.Identity
	for rows.Next() {
		var id domain.Identity
		if err := rows.Scan(&id.ID, &id.CIID, &id.Scheme, &id.Value, &id.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, &id)
	}
	return out, rows.Err()
}
