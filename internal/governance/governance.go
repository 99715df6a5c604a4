// Package governance implements the collision list/resolve/reopen
// lifecycle (spec.md §4.2): an OPEN collision can be RESOLVED with a note,
// and a RESOLVED collision can be reopened back to OPEN. Both transitions
// are idempotent in effect — a second resolve on an already-resolved row
// is a 404-free no-op surfaced by the caller, never a state error.
package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// ErrNotFound is returned when the collision id doesn't exist.
var ErrNotFound = store.ErrNotFound

// Service resolves and reopens governance collisions.
type Service struct {
	store store.Store
	clock clock.Clock
}

// New builds a governance Service.
func New(st store.Store, clk clock.Clock) *Service {
	return &Service{store: st, clock: clk}
}

// List returns collisions filtered by status ("open", "resolved", or "all"),
// newest first.
func (s *Service) List(ctx context.Context, status string) ([]*domain.GovernanceCollision, error) {
	return s.store.ListCollisions(ctx, store.CollisionFilter{Status: status})
}

// Get loads one collision by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.GovernanceCollision, error) {
	return s.store.GetCollision(ctx, id)
}

// Resolve transitions an OPEN collision to RESOLVED, recording note and
// emitting governance.collision.resolved.
func (s *Service) Resolve(ctx context.Context, id, note string) (*domain.GovernanceCollision, error) {
	var result *domain.GovernanceCollision
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		collision, err := tx.GetCollision(ctx, id)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := tx.ResolveCollision(ctx, id, note, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Already resolved — fetch and return the current row rather
				// than raise, matching the spec's "idempotent in effect".
				result = collision
				return nil
			}
			return err
		}

		if err := tx.AppendAudit(ctx, &domain.AuditEvent{
			ID:        uuid.NewString(),
			CIID:      &collision.ExistingCIID,
			EventType: domain.EventGovernanceCollisionResolved,
			Payload: map[string]any{
				"collision_id":    collision.ID,
				"scheme":          collision.Scheme,
				"value":           collision.Value,
				"resolution_note": note,
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		refreshed, err := tx.GetCollision(ctx, id)
		if err != nil {
			return err
		}
		result = refreshed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolve collision: %w", err)
	}
	return result, nil
}

// Reopen transitions a RESOLVED collision back to OPEN, clearing the
// resolution and emitting governance.collision.reopened.
func (s *Service) Reopen(ctx context.Context, id, note string) (*domain.GovernanceCollision, error) {
	var result *domain.GovernanceCollision
	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		collision, err := tx.GetCollision(ctx, id)
		if err != nil {
			return err
		}

		if err := tx.ReopenCollision(ctx, id); err != nil {
			if errors.Is(err, store.ErrConflict) {
				result = collision
				return nil
			}
			return err
		}

		if err := tx.AppendAudit(ctx, &domain.AuditEvent{
			ID:        uuid.NewString(),
			CIID:      &collision.ExistingCIID,
			EventType: domain.EventGovernanceCollisionReopened,
			Payload: map[string]any{
				"collision_id": collision.ID,
				"scheme":       collision.Scheme,
				"value":        collision.Value,
				"reopen_note":  note,
			},
			CreatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}

		refreshed, err := tx.GetCollision(ctx, id)
		if err != nil {
			return err
		}
		result = refreshed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reopen collision: %w", err)
	}
	return result, nil
}
