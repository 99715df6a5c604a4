package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// GetSyncState loads one watermark/schedule key.
func (s *Store) GetSyncState(ctx context.Context, key string) (*domain.SyncState, error) {
	var state domain.SyncState
	err := s.db.QueryRow(ctx, "SELECT key, value, updated_at FROM sync_state WHERE key=$1", key).
		Scan(&state.Key, &state.Value, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return &state, nil
}

// SetSyncState upserts a watermark/schedule key.
func (s *Store) SetSyncState(ctx context.Context, key, value string, updatedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value=$2, updated_at=$3`, key, value, updatedAt)
	if err != nil {
		return fmt.Errorf("set sync state: %w", err)
	}
	return nil
}

// ListSyncState returns every watermark/schedule key, for the
// /integrations/netbox/watermarks and /integrations/schedules read endpoints.
func (s *Store) ListSyncState(ctx context.Context) ([]*domain.SyncState, error) {
	rows, err := s.db.Query(ctx, "SELECT key, value, updated_at FROM sync_state ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list sync state: %w", err)
	}
	defer rows.Close()

	var out []*domain.SyncState
	for rows.Next() {
		var state domain.SyncState
		if err := rows.Scan(&state.Key, &state.Value, &state.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		out = append(out, &state)
	}
	return out, rows.Err()
}
