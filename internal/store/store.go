// Package store defines the persistence contract the rest of the service
// programs against — CI/Identity/Relationship records, the audit log,
// governance collisions, sync-job queue rows, approval gate rows, and the
// scheduler's watermark key/value table. internal/store/postgres is the
// only implementation; the interface exists so the reconciler, lifecycle
// engine, queue, and handlers can be tested against a fake without a real
// database, the way the teacher's DatabaseConnection interface decouples
// internal/database/postgres from its callers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
)

// ErrNotFound is returned when a lookup by ID/identity finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned for state transitions the caller attempted out of
// order (e.g. resolving an already-resolved collision).
var ErrConflict = errors.New("store: conflict")

// CIFilter narrows a CI listing; zero values are "don't filter on this".
type CIFilter struct {
	Status  string
	Source  string
	Owner   string
	CIType  string
	Query   string // matches against name, case-insensitive substring
	Limit   int
	Offset  int
}

// CollisionFilter narrows a governance collision listing.
type CollisionFilter struct {
	Status string // "open" | "resolved" | "all"
}

// Store is the full persistence surface. Every method takes a context and
// propagates it to the underlying driver so callers can bound query time
// with a deadline.
type Store interface {
	// CIs

	CreateCI(ctx context.Context, ci *domain.CI) error
	UpdateCI(ctx context.Context, ci *domain.CI) error
	GetCI(ctx context.Context, id string) (*domain.CI, error)
	FindCIByIdentity(ctx context.Context, scheme, value string) (*domain.CI, error)
	ListCIs(ctx context.Context, filter CIFilter) ([]*domain.CI, error)

	// Identities

	CreateIdentity(ctx context.Context, identity *domain.Identity) error
	ListIdentitiesForCI(ctx context.Context, ciID string) ([]*domain.Identity, error)

	// Relationships

	CreateRelationship(ctx context.Context, rel *domain.Relationship) error
	UpdateRelationship(ctx context.Context, rel *domain.Relationship) error
	DeleteRelationship(ctx context.Context, id string) error
	GetRelationship(ctx context.Context, id string) (*domain.Relationship, error)
	ListRelationships(ctx context.Context, ciID string) ([]*domain.Relationship, error)
	ListAllRelationships(ctx context.Context) ([]*domain.Relationship, error)

	// Audit log

	AppendAudit(ctx context.Context, event *domain.AuditEvent) error
	ListAuditForCI(ctx context.Context, ciID string, limit int) ([]*domain.AuditEvent, error)
	ExportAudit(ctx context.Context, limit int) ([]*domain.AuditEvent, error)
	ListRecentAudit(ctx context.Context, since time.Time, limit int) ([]*domain.AuditEvent, error)

	// Governance collisions

	CreateCollision(ctx context.Context, collision *domain.GovernanceCollision) (created bool, err error)
	FindOpenCollision(ctx context.Context, scheme, value, existingCIID, incomingCIID string) (*domain.GovernanceCollision, error)
	GetCollision(ctx context.Context, id string) (*domain.GovernanceCollision, error)
	ListCollisions(ctx context.Context, filter CollisionFilter) ([]*domain.GovernanceCollision, error)
	ResolveCollision(ctx context.Context, id, note string, resolvedAt time.Time) error
	ReopenCollision(ctx context.Context, id string) error

	// Sync-job queue

	EnqueueSyncJob(ctx context.Context, job *domain.SyncJob) error
	ClaimNextSyncJob(ctx context.Context, now time.Time) (*domain.SyncJob, error)
	CompleteSyncJobSuccess(ctx context.Context, id string, result map[string]any, completedAt time.Time) error
	CompleteSyncJobFailure(ctx context.Context, id string, errMsg string, nextRunAt time.Time, terminal bool, completedAt *time.Time) error
	GetSyncJob(ctx context.Context, id string) (*domain.SyncJob, error)
	ListSyncJobs(ctx context.Context, status string, limit int) ([]*domain.SyncJob, error)

	// Scheduler / watermark key-value state

	GetSyncState(ctx context.Context, key string) (*domain.SyncState, error)
	SetSyncState(ctx context.Context, key, value string, updatedAt time.Time) error
	ListSyncState(ctx context.Context) ([]*domain.SyncState, error)

	// Maker-checker approvals

	CreateApproval(ctx context.Context, approval *domain.ChangeApproval) error
	GetApproval(ctx context.Context, id string) (*domain.ChangeApproval, error)
	ListApprovals(ctx context.Context, status string, limit int) ([]*domain.ChangeApproval, error)
	FindApprovedApproval(ctx context.Context, method, path, payloadHash string, now time.Time) (*domain.ChangeApproval, error)
	DecideApproval(ctx context.Context, id, status, decidedBy string, decisionNote *string, decidedAt time.Time) error
	ConsumeApproval(ctx context.Context, id string, consumedAt time.Time) error
	ExpireApprovals(ctx context.Context, now time.Time) (int, error)

	// Health

	Health(ctx context.Context) error
	Close()

	// WithTx runs fn against a Store scoped to one transaction, committing
	// on success and rolling back on any error or panic fn raises. Callers
	// that need a CI write, its identities, a collision, and its audit
	// event to commit atomically (spec.md §5 Transactionality) group them
	// inside fn rather than calling individual methods on the outer Store.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
