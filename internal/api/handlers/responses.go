package handlers

import (
	"time"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
)

// ciResponse mirrors the dual snake_case/camelCase shape _to_ci_response
// emits: canonical fields plus connector-style aliases for clients that
// adopted the ciClass/canonicalName/technicalOwner vocabulary first.
type ciResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	CIType     string            `json:"ci_type"`
	Source     string            `json:"source"`
	Owner      *string           `json:"owner"`
	Status     domain.CIStatus   `json:"status"`
	Attributes domain.Attributes `json:"attributes"`
	LastSeenAt time.Time         `json:"last_seen_at"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`

	CIClass        string  `json:"ciClass"`
	CanonicalName  string  `json:"canonicalName"`
	Environment    string  `json:"environment"`
	LifecycleState string  `json:"lifecycleState"`
	TechnicalOwner *string `json:"technicalOwner"`
	SupportGroup   *string `json:"supportGroup"`
	UpdatedAtAlias time.Time `json:"updatedAt"`
}

func toCIResponse(ci *domain.CI) ciResponse {
	environment := "unknown"
	var supportGroup *string
	if ci.Attributes != nil {
		if v, ok := ci.Attributes["environment"].(string); ok && v != "" {
			environment = v
		}
		if v, ok := ci.Attributes["support_group"].(string); ok && v != "" {
			supportGroup = &v
		}
	}
	return ciResponse{
		ID:         ci.ID,
		Name:       ci.Name,
		CIType:     ci.CIType,
		Source:     ci.Source,
		Owner:      ci.Owner,
		Status:     ci.Status,
		Attributes: ci.Attributes,
		LastSeenAt: ci.LastSeenAt,
		CreatedAt:  ci.CreatedAt,
		UpdatedAt:  ci.UpdatedAt,

		CIClass:        ci.CIType,
		CanonicalName:  ci.Name,
		Environment:    environment,
		LifecycleState: string(ci.Status),
		TechnicalOwner: ci.Owner,
		SupportGroup:   supportGroup,
		UpdatedAtAlias: ci.UpdatedAt,
	}
}

func toCIResponses(cis []*domain.CI) []ciResponse {
	out := make([]ciResponse, 0, len(cis))
	for _, ci := range cis {
		out = append(out, toCIResponse(ci))
	}
	return out
}

// pickerCIResponse is the compact shape /pickers/cis returns.
type pickerCIResponse struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	CIType string          `json:"ci_type"`
	Status domain.CIStatus `json:"status"`
}

// relationshipNestedResponse is the shape embedded in CI graph/detail
// responses -- no id/created_at, per _to_rel_response.
type relationshipNestedResponse struct {
	SourceCIID   string `json:"source_ci_id"`
	TargetCIID   string `json:"target_ci_id"`
	RelationType string `json:"relation_type"`
	Source       string `json:"source"`
}

func toRelationshipNested(rel *domain.Relationship) relationshipNestedResponse {
	return relationshipNestedResponse{
		SourceCIID:   rel.SourceCIID,
		TargetCIID:   rel.TargetCIID,
		RelationType: rel.RelationType,
		Source:       rel.Source,
	}
}

func toRelationshipNestedList(rels []*domain.Relationship) []relationshipNestedResponse {
	out := make([]relationshipNestedResponse, 0, len(rels))
	for _, rel := range rels {
		out = append(out, toRelationshipNested(rel))
	}
	return out
}

// relationshipRecordResponse is the top-level CRUD shape, which does carry
// id/created_at (relationships.py's RelationshipRecordResponse).
type relationshipRecordResponse struct {
	ID           string    `json:"id"`
	SourceCIID   string    `json:"source_ci_id"`
	TargetCIID   string    `json:"target_ci_id"`
	RelationType string    `json:"relation_type"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}

func toRelationshipRecord(rel *domain.Relationship) relationshipRecordResponse {
	return relationshipRecordResponse{
		ID:           rel.ID,
		SourceCIID:   rel.SourceCIID,
		TargetCIID:   rel.TargetCIID,
		RelationType: rel.RelationType,
		Source:       rel.Source,
		CreatedAt:    rel.CreatedAt,
	}
}

func toRelationshipRecords(rels []*domain.Relationship) []relationshipRecordResponse {
	out := make([]relationshipRecordResponse, 0, len(rels))
	for _, rel := range rels {
		out = append(out, toRelationshipRecord(rel))
	}
	return out
}

type auditEventResponse struct {
	ID        string         `json:"id"`
	CIID      *string        `json:"ci_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

func toAuditResponse(ev *domain.AuditEvent) auditEventResponse {
	return auditEventResponse{
		ID:        ev.ID,
		CIID:      ev.CIID,
		EventType: ev.EventType,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
}

func toAuditResponses(evs []*domain.AuditEvent) []auditEventResponse {
	out := make([]auditEventResponse, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toAuditResponse(ev))
	}
	return out
}

type identityResponse struct {
	Scheme    string    `json:"scheme"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

func toIdentityResponses(identities []*domain.Identity) []identityResponse {
	out := make([]identityResponse, 0, len(identities))
	for _, id := range identities {
		out = append(out, identityResponse{Scheme: id.Scheme, Value: id.Value, CreatedAt: id.CreatedAt})
	}
	return out
}

type collisionResponse struct {
	ID               string     `json:"id"`
	Scheme           string     `json:"scheme"`
	Value            string     `json:"value"`
	ExistingCIID     string     `json:"existing_ci_id"`
	IncomingCIID     string     `json:"incoming_ci_id"`
	Status           string     `json:"status"`
	ResolutionNote   *string    `json:"resolution_note"`
	ResolvedAt       *time.Time `json:"resolved_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toCollisionResponse(c *domain.GovernanceCollision) collisionResponse {
	return collisionResponse{
		ID:             c.ID,
		Scheme:         c.Scheme,
		Value:          c.Value,
		ExistingCIID:   c.ExistingCIID,
		IncomingCIID:   c.IncomingCIID,
		Status:         string(c.Status),
		ResolutionNote: c.ResolutionNote,
		ResolvedAt:     c.ResolvedAt,
		CreatedAt:      c.CreatedAt,
	}
}

func toCollisionResponses(cs []*domain.GovernanceCollision) []collisionResponse {
	out := make([]collisionResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCollisionResponse(c))
	}
	return out
}

type approvalResponse struct {
	ID             string         `json:"id"`
	Method         string         `json:"method"`
	RequestPath    string         `json:"request_path"`
	PayloadHash    string         `json:"payload_hash"`
	PayloadPreview map[string]any `json:"payload_preview"`
	Reason         *string        `json:"reason"`
	RequestedBy    string         `json:"requested_by"`
	Status         string         `json:"status"`
	DecidedBy      *string        `json:"decided_by"`
	DecisionNote   *string        `json:"decision_note"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	DecidedAt      *time.Time     `json:"decided_at"`
	ConsumedAt     *time.Time     `json:"consumed_at"`
}

// toApprovalResponse omits updated_at: domain.ChangeApproval tracks no such
// field, and the three timestamps it does carry (decided_at/consumed_at/
// expires_at) already tell a caller everything update_at would summarize.
func toApprovalResponse(a *domain.ChangeApproval) approvalResponse {
	return approvalResponse{
		ID:             a.ID,
		Method:         a.Method,
		RequestPath:    a.RequestPath,
		PayloadHash:    a.PayloadHash,
		PayloadPreview: a.PayloadPreview,
		Reason:         a.Reason,
		RequestedBy:    a.RequestedBy,
		Status:         string(a.Status),
		DecidedBy:      a.DecidedBy,
		DecisionNote:   a.DecisionNote,
		CreatedAt:      a.CreatedAt,
		ExpiresAt:      a.ExpiresAt,
		DecidedAt:      a.DecidedAt,
		ConsumedAt:     a.ConsumedAt,
	}
}

func toApprovalResponses(as []*domain.ChangeApproval) []approvalResponse {
	out := make([]approvalResponse, 0, len(as))
	for _, a := range as {
		out = append(out, toApprovalResponse(a))
	}
	return out
}

type syncJobResponse struct {
	ID            string         `json:"id"`
	JobType       string         `json:"job_type"`
	Status        string         `json:"status"`
	RequestedBy   *string        `json:"requested_by"`
	Payload       map[string]any `json:"payload"`
	Result        map[string]any `json:"result"`
	LastError     *string        `json:"last_error"`
	AttemptCount  int            `json:"attempt_count"`
	MaxAttempts   int            `json:"max_attempts"`
	NextRunAt     time.Time      `json:"next_run_at"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at"`
}

func toSyncJobResponse(j *domain.SyncJob) syncJobResponse {
	return syncJobResponse{
		ID:           j.ID,
		JobType:      j.JobType,
		Status:       string(j.Status),
		RequestedBy:  j.RequestedBy,
		Payload:      j.Payload,
		Result:       j.Result,
		LastError:    j.LastError,
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		NextRunAt:    j.NextRunAt,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

func toSyncJobResponses(js []*domain.SyncJob) []syncJobResponse {
	out := make([]syncJobResponse, 0, len(js))
	for _, j := range js {
		out = append(out, toSyncJobResponse(j))
	}
	return out
}
