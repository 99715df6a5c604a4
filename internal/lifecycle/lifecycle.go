// Package lifecycle runs the periodic CI state-machine pass (spec.md §4.3):
// compute inactive_days from last_seen_at, move each CI to its target
// status, and separately flag CIs that appear in no relationship as
// orphans. Grounded on original_source/app/services/lifecycle.py.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/issuetracker"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// Thresholds are the configured inactive_days boundaries (spec.md defaults
// 30/90/120).
type Thresholds struct {
	StagingDays int
	ReviewDays  int
	RetiredDays int
}

// Result summarizes one Run.
type Result struct {
	Transitioned int
	OrphansFound int
}

// Service runs lifecycle passes.
type Service struct {
	store      store.Store
	clock      clock.Clock
	thresholds Thresholds
	tracker    issuetracker.Client
	pageSize   int
}

// New builds a lifecycle Service. pageSize bounds each ListCIs page; 0 uses
// the spec's default of 1000.
func New(st store.Store, clk clock.Clock, thresholds Thresholds, tracker issuetracker.Client, pageSize int) *Service {
	if pageSize <= 0 {
		pageSize = 1000
	}
	if tracker == nil {
		tracker = issuetracker.Noop{}
	}
	return &Service{store: st, clock: clk, thresholds: thresholds, tracker: tracker, pageSize: pageSize}
}

type notice struct {
	summary string
	details map[string]any
}

// Run evaluates every CI's target lifecycle state and every CI's orphan
// status in one pass, committing all writes and audit events in a single
// transaction. Issue-tracker notifications are queued during the pass and
// dispatched only after that transaction commits, so tracker latency never
// holds the write lock.
func (s *Service) Run(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	result := Result{}
	var notices []notice

	err := s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		notified := make(map[string]bool)

		offset := 0
		for {
			cis, err := tx.ListCIs(ctx, store.CIFilter{Limit: s.pageSize, Offset: offset})
			if err != nil {
				return fmt.Errorf("list cis: %w", err)
			}
			if len(cis) == 0 {
				break
			}

			for _, ci := range cis {
				inactiveDays := int(now.Sub(ci.LastSeenAt).Hours() / 24)
				target := targetStatus(inactiveDays, s.thresholds)
				if target == ci.Status {
					continue
				}

				oldStatus := ci.Status
				ci.Status = target
				ci.UpdatedAt = now
				if err := tx.UpdateCI(ctx, ci); err != nil {
					return fmt.Errorf("update ci %s: %w", ci.ID, err)
				}
				result.Transitioned++

				if err := tx.AppendAudit(ctx, &domain.AuditEvent{
					ID:        uuid.NewString(),
					CIID:      &ci.ID,
					EventType: domain.EventCILifecycleTransitioned,
					Payload: map[string]any{
						"from":          string(oldStatus),
						"to":            string(target),
						"inactive_days": inactiveDays,
					},
					CreatedAt: now,
				}); err != nil {
					return fmt.Errorf("append audit for ci %s: %w", ci.ID, err)
				}

				if target == domain.CIStatusRetirementReview && !notified[ci.ID] {
					notified[ci.ID] = true
					notices = append(notices, notice{
						summary: "CI retirement review",
						details: map[string]any{"ci_id": ci.ID, "name": ci.Name, "inactive_days": inactiveDays},
					})
				}
			}

			if len(cis) < s.pageSize {
				break
			}
			offset += s.pageSize
		}

		orphanNotices, found, err := s.detectOrphans(ctx, tx)
		if err != nil {
			return err
		}
		result.OrphansFound = found
		notices = append(notices, orphanNotices...)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for _, n := range notices {
		s.tracker.CreateIssue(ctx, n.summary, n.details)
	}
	return result, nil
}

// detectOrphans flags every CI whose id appears in no relationship,
// emitting governance.orphan.detected once per orphan.
func (s *Service) detectOrphans(ctx context.Context, tx store.Store) ([]notice, int, error) {
	rels, err := tx.ListAllRelationships(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list relationships: %w", err)
	}
	connected := make(map[string]bool, len(rels)*2)
	for _, rel := range rels {
		connected[rel.SourceCIID] = true
		connected[rel.TargetCIID] = true
	}

	var notices []notice
	found := 0
	offset := 0
	for {
		cis, err := tx.ListCIs(ctx, store.CIFilter{Limit: s.pageSize, Offset: offset})
		if err != nil {
			return nil, 0, fmt.Errorf("list cis: %w", err)
		}
		if len(cis) == 0 {
			break
		}

		for _, ci := range cis {
			if connected[ci.ID] {
				continue
			}
			found++
			if err := tx.AppendAudit(ctx, &domain.AuditEvent{
				ID:        uuid.NewString(),
				CIID:      &ci.ID,
				EventType: domain.EventGovernanceOrphanDetected,
				Payload:   map[string]any{"ci_id": ci.ID, "name": ci.Name},
				CreatedAt: s.clock.Now(),
			}); err != nil {
				return nil, 0, fmt.Errorf("append audit for orphan %s: %w", ci.ID, err)
			}
			notices = append(notices, notice{
				summary: "Orphan CI detected",
				details: map[string]any{"ci_id": ci.ID, "name": ci.Name},
			})
		}

		if len(cis) < s.pageSize {
			break
		}
		offset += s.pageSize
	}
	return notices, found, nil
}

func targetStatus(inactiveDays int, t Thresholds) domain.CIStatus {
	switch {
	case inactiveDays >= t.RetiredDays:
		return domain.CIStatusRetired
	case inactiveDays >= t.ReviewDays:
		return domain.CIStatusRetirementReview
	case inactiveDays >= t.StagingDays:
		return domain.CIStatusStaging
	default:
		return domain.CIStatusActive
	}
}
