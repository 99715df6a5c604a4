// Package storetest is an in-memory store.Store used by the business-logic
// packages' unit tests (reconciler, governance, lifecycle, queue,
// scheduler, approval) so they can exercise real transaction semantics
// without a database, the way the teacher hands its service tests a
// MockLLMClient instead of a live model endpoint.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// Store is a mutex-guarded, value-copying fake. WithTx clones the whole
// dataset, runs the callback against the clone, and only merges the clone
// back on success — giving callers the same all-or-nothing semantics as
// postgres.Store.RunInTx without a real database underneath.
type Store struct {
	mu            sync.Mutex
	cis           map[string]domain.CI
	identities    map[string]domain.Identity
	relationships map[string]domain.Relationship
	audit         []domain.AuditEvent
	collisions    map[string]domain.GovernanceCollision
	syncJobs      map[string]domain.SyncJob
	syncState     map[string]domain.SyncState
	approvals     map[string]domain.ChangeApproval
}

// New returns an empty fake store.
func New() *Store {
	return &Store{
		cis:           make(map[string]domain.CI),
		identities:    make(map[string]domain.Identity),
		relationships: make(map[string]domain.Relationship),
		collisions:    make(map[string]domain.GovernanceCollision),
		syncJobs:      make(map[string]domain.SyncJob),
		syncState:     make(map[string]domain.SyncState),
		approvals:     make(map[string]domain.ChangeApproval),
	}
}

func (s *Store) clone() *Store {
	clone := New()
	for k, v := range s.cis {
		clone.cis[k] = v
	}
	for k, v := range s.identities {
		clone.identities[k] = v
	}
	for k, v := range s.relationships {
		clone.relationships[k] = v
	}
	clone.audit = append(clone.audit, s.audit...)
	for k, v := range s.collisions {
		clone.collisions[k] = v
	}
	for k, v := range s.syncJobs {
		clone.syncJobs[k] = v
	}
	for k, v := range s.syncState {
		clone.syncState[k] = v
	}
	for k, v := range s.approvals {
		clone.approvals[k] = v
	}
	return clone
}

// WithTx clones the dataset, runs fn against the clone, and merges the
// clone's state back only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.mu.Lock()
	tx := s.clone()
	s.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.cis = tx.cis
	s.identities = tx.identities
	s.relationships = tx.relationships
	s.audit = tx.audit
	s.collisions = tx.collisions
	s.syncJobs = tx.syncJobs
	s.syncState = tx.syncState
	s.approvals = tx.approvals
	s.mu.Unlock()
	return nil
}

// Health always succeeds.
func (s *Store) Health(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// -- CIs --

func (s *Store) CreateCI(ctx context.Context, ci *domain.CI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cis[ci.ID] = *ci
	return nil
}

func (s *Store) UpdateCI(ctx context.Context, ci *domain.CI) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cis[ci.ID]; !ok {
		return store.ErrNotFound
	}
	s.cis[ci.ID] = *ci
	return nil
}

func (s *Store) GetCI(ctx context.Context, id string) (*domain.CI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.cis[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := ci
	return &out, nil
}

func (s *Store) FindCIByIdentity(ctx context.Context, scheme, value string) (*domain.CI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.Scheme == scheme && ident.Value == value {
			ci, ok := s.cis[ident.CIID]
			if !ok {
				return nil, store.ErrNotFound
			}
			out := ci
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListCIs(ctx context.Context, filter store.CIFilter) ([]*domain.CI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.CI
	for _, ci := range s.cis {
		ci := ci
		if filter.Status != "" && string(ci.Status) != filter.Status {
			continue
		}
		if filter.Source != "" && ci.Source != filter.Source {
			continue
		}
		if filter.CIType != "" && ci.CIType != filter.CIType {
			continue
		}
		out = append(out, &ci)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// -- Identities --

func (s *Store) CreateIdentity(ctx context.Context, identity *domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[identity.ID] = *identity
	return nil
}

func (s *Store) ListIdentitiesForCI(ctx context.Context, ciID string) ([]*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Identity
	for _, ident := range s.identities {
		if ident.CIID == ciID {
			ident := ident
			out = append(out, &ident)
		}
	}
	return out, nil
}

// -- Relationships --

func (s *Store) CreateRelationship(ctx context.Context, rel *domain.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relationships[rel.ID] = *rel
	return nil
}

func (s *Store) UpdateRelationship(ctx context.Context, rel *domain.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.relationships[rel.ID]
	if !ok {
		return store.ErrNotFound
	}
	existing.RelationType = rel.RelationType
	existing.Source = rel.Source
	s.relationships[rel.ID] = existing
	return nil
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.relationships, id)
	return nil
}

func (s *Store) GetRelationship(ctx context.Context, id string) (*domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.relationships[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := rel
	return &out, nil
}

func (s *Store) ListRelationships(ctx context.Context, ciID string) ([]*domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Relationship
	for _, rel := range s.relationships {
		if rel.SourceCIID == ciID || rel.TargetCIID == ciID {
			rel := rel
			out = append(out, &rel)
		}
	}
	return out, nil
}

func (s *Store) ListAllRelationships(ctx context.Context) ([]*domain.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Relationship
	for _, rel := range s.relationships {
		rel := rel
		out = append(out, &rel)
	}
	return out, nil
}

// -- Audit log --

func (s *Store) AppendAudit(ctx context.Context, event *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *event)
	return nil
}

func (s *Store) ListAuditForCI(ctx context.Context, ciID string, limit int) ([]*domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditEvent
	for i := len(s.audit) - 1; i >= 0; i-- {
		event := s.audit[i]
		if event.CIID != nil && *event.CIID == ciID {
			out = append(out, &event)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ExportAudit(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditEvent
	for i := len(s.audit) - 1; i >= 0; i-- {
		event := s.audit[i]
		out = append(out, &event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListRecentAudit(ctx context.Context, since time.Time, limit int) ([]*domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AuditEvent
	for _, event := range s.audit {
		if event.CreatedAt.Before(since) {
			continue
		}
		event := event
		out = append(out, &event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// -- Governance collisions --

func (s *Store) CreateCollision(ctx context.Context, collision *domain.GovernanceCollision) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collisions {
		if existing.Status == domain.CollisionOpen &&
			existing.Scheme == collision.Scheme &&
			existing.Value == collision.Value &&
			existing.ExistingCIID == collision.ExistingCIID &&
			existing.IncomingCIID == collision.IncomingCIID {
			return false, nil
		}
	}
	s.collisions[collision.ID] = *collision
	return true, nil
}

func (s *Store) FindOpenCollision(ctx context.Context, scheme, value, existingCIID, incomingCIID string) (*domain.GovernanceCollision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collisions {
		if c.Status == domain.CollisionOpen && c.Scheme == scheme && c.Value == value &&
			c.ExistingCIID == existingCIID && c.IncomingCIID == incomingCIID {
			out := c
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetCollision(ctx context.Context, id string) (*domain.GovernanceCollision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collisions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := c
	return &out, nil
}

func (s *Store) ListCollisions(ctx context.Context, filter store.CollisionFilter) ([]*domain.GovernanceCollision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.GovernanceCollision
	for _, c := range s.collisions {
		switch filter.Status {
		case "open":
			if c.Status != domain.CollisionOpen {
				continue
			}
		case "resolved":
			if c.Status != domain.CollisionResolved {
				continue
			}
		}
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ResolveCollision(ctx context.Context, id, note string, resolvedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collisions[id]
	if !ok || c.Status != domain.CollisionOpen {
		return store.ErrConflict
	}
	c.Status = domain.CollisionResolved
	c.ResolutionNote = &note
	c.ResolvedAt = &resolvedAt
	s.collisions[id] = c
	return nil
}

func (s *Store) ReopenCollision(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collisions[id]
	if !ok || c.Status != domain.CollisionResolved {
		return store.ErrConflict
	}
	c.Status = domain.CollisionOpen
	c.ResolutionNote = nil
	c.ResolvedAt = nil
	s.collisions[id] = c
	return nil
}

// -- Sync-job queue --

func (s *Store) EnqueueSyncJob(ctx context.Context, job *domain.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncJobs[job.ID] = *job
	return nil
}

func (s *Store) ClaimNextSyncJob(ctx context.Context, now time.Time) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidate *domain.SyncJob
	for id, job := range s.syncJobs {
		if job.Status != domain.SyncJobQueued || job.NextRunAt.After(now) {
			continue
		}
		job := job
		if candidate == nil || job.NextRunAt.Before(candidate.NextRunAt) {
			job.ID = id
			candidate = &job
		}
	}
	if candidate == nil {
		return nil, nil
	}
	candidate.Status = domain.SyncJobRunning
	candidate.StartedAt = &now
	candidate.UpdatedAt = now
	s.syncJobs[candidate.ID] = *candidate
	out := *candidate
	return &out, nil
}

func (s *Store) CompleteSyncJobSuccess(ctx context.Context, id string, result map[string]any, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.syncJobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.Status = domain.SyncJobSucceeded
	job.Result = result
	job.LastError = nil
	job.CompletedAt = &completedAt
	job.UpdatedAt = completedAt
	s.syncJobs[id] = job
	return nil
}

func (s *Store) CompleteSyncJobFailure(ctx context.Context, id string, errMsg string, nextRunAt time.Time, terminal bool, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.syncJobs[id]
	if !ok {
		return store.ErrNotFound
	}
	job.AttemptCount++
	job.LastError = &errMsg
	job.NextRunAt = nextRunAt
	job.CompletedAt = completedAt
	job.UpdatedAt = nextRunAt
	if terminal {
		job.Status = domain.SyncJobFailed
	} else {
		job.Status = domain.SyncJobQueued
	}
	s.syncJobs[id] = job
	return nil
}

func (s *Store) GetSyncJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.syncJobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := job
	return &out, nil
}

func (s *Store) ListSyncJobs(ctx context.Context, status string, limit int) ([]*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SyncJob
	for _, job := range s.syncJobs {
		if status != "" && string(job.Status) != status {
			continue
		}
		job := job
		out = append(out, &job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -- Scheduler / watermark state --

func (s *Store) GetSyncState(ctx context.Context, key string) (*domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.syncState[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := state
	return &out, nil
}

func (s *Store) SetSyncState(ctx context.Context, key, value string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncState[key] = domain.SyncState{Key: key, Value: value, UpdatedAt: updatedAt}
	return nil
}

func (s *Store) ListSyncState(ctx context.Context) ([]*domain.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SyncState
	for _, state := range s.syncState {
		state := state
		out = append(out, &state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// -- Maker-checker approvals --

func (s *Store) CreateApproval(ctx context.Context, approval *domain.ChangeApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approval.ID] = *approval
	return nil
}

func (s *Store) GetApproval(ctx context.Context, id string) (*domain.ChangeApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := approval
	return &out, nil
}

func (s *Store) ListApprovals(ctx context.Context, status string, limit int) ([]*domain.ChangeApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ChangeApproval
	for _, approval := range s.approvals {
		if status != "" && string(approval.Status) != status {
			continue
		}
		approval := approval
		out = append(out, &approval)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) FindApprovedApproval(ctx context.Context, method, path, payloadHash string, now time.Time) (*domain.ChangeApproval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.ChangeApproval
	for _, approval := range s.approvals {
		if approval.Method != method || approval.RequestPath != path || approval.PayloadHash != payloadHash {
			continue
		}
		if approval.Status != domain.ApprovalApproved || !approval.ExpiresAt.After(now) {
			continue
		}
		approval := approval
		if best == nil || approval.CreatedAt.After(best.CreatedAt) {
			best = &approval
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (s *Store) DecideApproval(ctx context.Context, id, status, decidedBy string, decisionNote *string, decidedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok || approval.Status != domain.ApprovalPending {
		return store.ErrConflict
	}
	approval.Status = domain.ApprovalStatus(status)
	approval.DecidedBy = &decidedBy
	approval.DecisionNote = decisionNote
	approval.DecidedAt = &decidedAt
	s.approvals[id] = approval
	return nil
}

func (s *Store) ConsumeApproval(ctx context.Context, id string, consumedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok || approval.Status != domain.ApprovalApproved {
		return store.ErrConflict
	}
	approval.Status = domain.ApprovalConsumed
	approval.ConsumedAt = &consumedAt
	s.approvals[id] = approval
	return nil
}

func (s *Store) ExpireApprovals(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	note := "expired"
	for id, approval := range s.approvals {
		if approval.Status != domain.ApprovalPending {
			continue
		}
		if approval.ExpiresAt.After(now) {
			continue
		}
		approval.Status = domain.ApprovalRejected
		approval.DecisionNote = &note
		approval.DecidedAt = &now
		s.approvals[id] = approval
		count++
	}
	return count, nil
}

var _ store.Store = (*Store)(nil)
