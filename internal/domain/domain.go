// Package domain holds the CMDB's core record types: Configuration Items,
// their identities and relationships, the append-only audit log, governance
// collisions, sync-job queue state, and maker-checker approvals.
package domain

import "time"

// JSONValue is the schemaless "string | number | bool | null | array |
// object" value the spec uses for CI attributes. Go's encoding/json already
// decodes arbitrary JSON into this shape via map[string]any / []any /
// string / float64 / bool / nil, so we alias it rather than invent a sum
// type — re-marshaling normalizes comparisons the same way the spec
// requires ("all comparisons normalize before hashing").
type JSONValue = any

// Attributes is the schemaless attribute bag carried by a CI.
type Attributes map[string]JSONValue

// CIStatus is the CI lifecycle state.
type CIStatus string

const (
	CIStatusActive           CIStatus = "ACTIVE"
	CIStatusStaging          CIStatus = "STAGING"
	CIStatusRetirementReview CIStatus = "RETIREMENT_REVIEW"
	CIStatusRetired          CIStatus = "RETIRED"
)

// CI is a managed record representing one real-world entity.
type CI struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	CIType      string     `json:"ci_type"`
	Source      string     `json:"source"`
	Owner       *string    `json:"owner"`
	Status      CIStatus   `json:"status"`
	Attributes  Attributes `json:"attributes"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Identity is a (scheme, value) pair that names a CI within that scheme.
type Identity struct {
	ID        string    `json:"id"`
	CIID      string    `json:"ci_id"`
	Scheme    string    `json:"scheme"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Relationship is a directed edge between two CIs, attributed to a source.
type Relationship struct {
	ID           string    `json:"id"`
	SourceCIID   string    `json:"source_ci_id"`
	TargetCIID   string    `json:"target_ci_id"`
	RelationType string    `json:"relation_type"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEvent is one entry in the append-only audit log.
type AuditEvent struct {
	ID        string         `json:"id"`
	CIID      *string        `json:"ci_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Closed vocabulary of audit event types emitted by the subsystems in this
// repository (spec.md §7 taxonomy).
const (
	EventCICreated                    = "ci.created"
	EventCIUpdated                    = "ci.updated"
	EventCIReconcileSkippedByPrec     = "ci.reconcile.skipped_by_precedence"
	EventCILifecycleTransitioned      = "ci.lifecycle.transitioned"
	EventCIDriftResolved              = "ci.drift.resolved"
	EventGovernanceOwnerMissing       = "governance.owner.missing"
	EventGovernanceCollisionDetected  = "governance.collision.detected"
	EventGovernanceCollisionResolved  = "governance.collision.resolved"
	EventGovernanceCollisionReopened  = "governance.collision.reopened"
	EventGovernanceOrphanDetected     = "governance.orphan.detected"
	EventRelationshipCreated          = "relationship.created"
	EventRelationshipDeleted          = "relationship.deleted"
	EventIntegrationJobQueued         = "integration.job.queued"
	EventIntegrationJobStarted        = "integration.job.started"
	EventIntegrationJobSucceeded      = "integration.job.succeeded"
	EventIntegrationJobRetryScheduled = "integration.job.retry_scheduled"
	EventIntegrationJobFailed         = "integration.job.failed"
	EventIntegrationScheduleTriggered = "integration.schedule.triggered"
	EventIntegrationScheduleSkipped   = "integration.schedule.skipped"
	EventApprovalRequested            = "approval.requested"
	EventApprovalApproved             = "approval.approved"
	EventApprovalRejected             = "approval.rejected"
	EventApprovalExpired              = "approval.expired"
	EventApprovalConsumed             = "approval.consumed"
)

// CollisionStatus is the governance collision lifecycle state.
type CollisionStatus string

const (
	CollisionOpen     CollisionStatus = "OPEN"
	CollisionResolved CollisionStatus = "RESOLVED"
)

// GovernanceCollision records two CIs competing for the same identity.
type GovernanceCollision struct {
	ID             string          `json:"id"`
	Scheme         string          `json:"scheme"`
	Value          string          `json:"value"`
	ExistingCIID   string          `json:"existing_ci_id"`
	IncomingCIID   string          `json:"incoming_ci_id"`
	Status         CollisionStatus `json:"status"`
	ResolutionNote *string         `json:"resolution_note,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SyncJobStatus is the sync-job queue state.
type SyncJobStatus string

const (
	SyncJobQueued    SyncJobStatus = "QUEUED"
	SyncJobRunning   SyncJobStatus = "RUNNING"
	SyncJobSucceeded SyncJobStatus = "SUCCEEDED"
	SyncJobFailed    SyncJobStatus = "FAILED"
)

// SyncJob is one persisted integration job.
type SyncJob struct {
	ID            string         `json:"id"`
	JobType       string         `json:"job_type"`
	Status        SyncJobStatus  `json:"status"`
	RequestedBy   *string        `json:"requested_by"`
	Payload       map[string]any `json:"payload"`
	Result        map[string]any `json:"result,omitempty"`
	LastError     *string        `json:"last_error,omitempty"`
	AttemptCount  int            `json:"attempt_count"`
	MaxAttempts   int            `json:"max_attempts"`
	NextRunAt     time.Time      `json:"next_run_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ApprovalStatus is the maker-checker approval lifecycle state.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalConsumed  ApprovalStatus = "CONSUMED"
)

// ChangeApproval binds a maker-checker decision to a specific mutating
// request (method, canonical path, canonical payload hash).
type ChangeApproval struct {
	ID             string         `json:"id"`
	Method         string         `json:"method"`
	RequestPath    string         `json:"request_path"`
	PayloadHash    string         `json:"payload_hash"`
	PayloadPreview map[string]any `json:"payload_preview"`
	Reason         *string        `json:"reason,omitempty"`
	RequestedBy    string         `json:"requested_by"`
	Status         ApprovalStatus `json:"status"`
	DecidedBy      *string        `json:"decided_by,omitempty"`
	DecisionNote   *string        `json:"decision_note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
	ConsumedAt     *time.Time     `json:"consumed_at,omitempty"`
}

// SyncState is one K/V watermark or next-scheduled-run entry.
type SyncState struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
