// Package approval implements the maker-checker gate (spec.md §4.8):
// creating a pending approval for a mutating request, approver
// decisions, and the gate check a mutating handler runs before it is
// allowed to proceed. Grounded on
// original_source/app/routers/approvals.py and
// original_source/app/services/approvals.py.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/canonicaljson"
	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

const systemApprovalCleaner = "system:approval-cleaner"

var (
	// ErrInvalidPath is returned when a requested approval path does not
	// start with "/" or targets the approvals endpoints themselves.
	ErrInvalidPath = errors.New("approval: request path must start with '/' and not target /approvals")
)

// GateError is the maker-checker gate's own closed set of failure modes,
// mapped 1:1 to HTTP status by the caller (404/409/403 per spec.md §4.8).
type GateError struct {
	Reason string
}

func (e *GateError) Error() string { return e.Reason }

var (
	ErrApprovalNotFound    = &GateError{"approval not found"}
	ErrApprovalNotApproved = &GateError{"approval is not in APPROVED status"}
	ErrApprovalExpired     = &GateError{"approval has expired"}
	ErrSelfApproval        = &GateError{"requester and current principal must match for binding-requester mode"}
	ErrMethodMismatch      = &GateError{"approval method does not match the request method"}
	ErrPathMismatch        = &GateError{"approval request_path does not match the canonical request path"}
	ErrPayloadMismatch     = &GateError{"approval payload_hash does not match the request body"}
)

// Service implements the approval lifecycle and gate check on top of a
// store.Store.
type Service struct {
	store         store.Store
	clock         clock.Clock
	defaultTTL    time.Duration
	minTTL        time.Duration
	maxTTL        time.Duration
	bindRequester bool
}

// Config tunes TTL bounds and whether the gate requires the decided
// requester to match the currently authenticated principal.
type Config struct {
	DefaultTTL    time.Duration
	MinTTL        time.Duration
	MaxTTL        time.Duration
	BindRequester bool
}

// New builds a Service, defaulting TTL bounds to spec.md's 30-minute
// default bounded to [1, 1440] minutes when the caller leaves them zero.
func New(st store.Store, clk clock.Clock, cfg Config) *Service {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Minute
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = time.Minute
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 1440 * time.Minute
	}
	return &Service{
		store: st, clock: clk,
		defaultTTL: cfg.DefaultTTL, minTTL: cfg.MinTTL, maxTTL: cfg.MaxTTL,
		bindRequester: cfg.BindRequester,
	}
}

// NormalizeRequestPath reproduces _normalize_request_path: the stored
// path must start with "/" and must not target the approvals endpoints
// themselves (an approval cannot authorize creating more approvals).
func NormalizeRequestPath(path, query string) (string, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		return "", ErrInvalidPath
	}
	if strings.HasPrefix(path, "/approvals") {
		return "", ErrInvalidPath
	}
	query = strings.TrimSpace(query)
	query = strings.TrimPrefix(query, "?")
	if query == "" {
		return path, nil
	}
	return path + "?" + query, nil
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Method     string
	Path       string
	Query      string
	Payload    any
	Reason     *string
	TTLMinutes int
}

// Create records a new PENDING approval for the given principal.
func (s *Service) Create(ctx context.Context, principal string, req CreateRequest) (*domain.ChangeApproval, error) {
	requestPath, err := NormalizeRequestPath(req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	ttlMinutes := req.TTLMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = int(s.defaultTTL / time.Minute)
	}
	ttl := time.Duration(ttlMinutes) * time.Minute
	if ttl < s.minTTL {
		ttl = s.minTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	now := s.clock.Now()
	payloadHash := canonicaljson.HashValue(req.Payload)
	var preview map[string]any
	if m, ok := req.Payload.(map[string]any); ok {
		preview = m
	} else {
		preview = map[string]any{}
	}

	var reason *string
	if req.Reason != nil {
		trimmed := strings.TrimSpace(*req.Reason)
		if trimmed != "" {
			reason = &trimmed
		}
	}

	approval := &domain.ChangeApproval{
		ID:             uuid.NewString(),
		Method:         strings.ToUpper(req.Method),
		RequestPath:    requestPath,
		PayloadHash:    payloadHash,
		PayloadPreview: preview,
		Reason:         reason,
		RequestedBy:    principal,
		Status:         domain.ApprovalPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := s.store.CreateApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	if err := s.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventApprovalRequested,
		Payload: map[string]any{
			"approval_id": approval.ID, "method": approval.Method,
			"request_path": approval.RequestPath, "requested_by": principal,
			"expires_at": approval.ExpiresAt,
		},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("append audit for requested approval %s: %w", approval.ID, err)
	}
	return approval, nil
}

// Decide transitions a PENDING approval to APPROVED or REJECTED,
// enforcing the self-decision ban: an approver may not decide on an
// approval they themselves requested.
func (s *Service) Decide(ctx context.Context, approvalID, approver string, approve bool, note *string) (*domain.ChangeApproval, error) {
	approval, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("get approval %s: %w", approvalID, err)
	}
	if approval.Status != domain.ApprovalPending {
		verb := "approved"
		if !approve {
			verb = "rejected"
		}
		return nil, &GateError{fmt.Sprintf("only PENDING approvals can be %s", verb)}
	}
	now := s.clock.Now()
	if approve && !approval.ExpiresAt.After(now) {
		return nil, ErrApprovalExpired
	}
	if approval.RequestedBy == approver {
		return nil, ErrSelfApproval
	}

	status := domain.ApprovalRejected
	eventType := domain.EventApprovalRejected
	if approve {
		status = domain.ApprovalApproved
		eventType = domain.EventApprovalApproved
	}

	var trimmedNote *string
	if note != nil {
		trimmed := strings.TrimSpace(*note)
		if trimmed != "" {
			trimmedNote = &trimmed
		}
	}

	if err := s.store.DecideApproval(ctx, approvalID, string(status), approver, trimmedNote, now); err != nil {
		return nil, fmt.Errorf("decide approval %s: %w", approvalID, err)
	}
	if err := s.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Payload:   map[string]any{"approval_id": approvalID, "decided_by": approver, "decision_note": trimmedNote},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("append audit for decided approval %s: %w", approvalID, err)
	}

	approval.Status = status
	approval.DecidedBy = &approver
	approval.DecisionNote = trimmedNote
	approval.DecidedAt = &now
	return approval, nil
}

// List returns approvals, optionally filtered by status, after first
// sweeping any PENDING-but-expired rows so a caller never sees a stale
// PENDING entry that should have expired.
func (s *Service) List(ctx context.Context, status string, limit int) ([]*domain.ChangeApproval, error) {
	if _, err := s.ExpireDue(ctx); err != nil {
		return nil, err
	}
	return s.store.ListApprovals(ctx, status, limit)
}

// ExpireDue rejects every PENDING approval whose TTL has elapsed,
// emitting one approval.expired audit event carrying the count.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock.Now()
	count, err := s.store.ExpireApprovals(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := s.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventApprovalExpired,
		Payload:   map[string]any{"expired_count": count, "at": now},
		CreatedAt: now,
	}); err != nil {
		return count, fmt.Errorf("append audit for expired approvals: %w", err)
	}
	return count, nil
}

// GateRequest describes the mutating request a gate check validates
// against a named approval.
type GateRequest struct {
	ApprovalID       string
	Method           string
	Path             string
	Query            string
	Body             []byte
	ContentType      string
	CurrentPrincipal string
}

// CheckAndConsume runs the full maker-checker gate (spec.md §4.8),
// short-circuiting on the first failing check, and transitions the
// approval to CONSUMED on success. The caller is responsible for
// wrapping this and the mutating operation it guards in one
// store.Store.WithTx so the consumption commits atomically with the
// change it authorizes.
func (s *Service) CheckAndConsume(ctx context.Context, req GateRequest) (*domain.ChangeApproval, error) {
	approval, err := s.store.GetApproval(ctx, req.ApprovalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("get approval %s: %w", req.ApprovalID, err)
	}
	if approval.Status != domain.ApprovalApproved {
		return nil, ErrApprovalNotApproved
	}
	now := s.clock.Now()
	if !approval.ExpiresAt.After(now) {
		return nil, ErrApprovalExpired
	}
	if s.bindRequester && approval.RequestedBy != req.CurrentPrincipal {
		return nil, ErrSelfApproval
	}
	if !strings.EqualFold(approval.Method, req.Method) {
		return nil, ErrMethodMismatch
	}
	canonicalPath, err := canonicalGatePath(req.Path, req.Query)
	if err != nil {
		return nil, err
	}
	if approval.RequestPath != canonicalPath {
		return nil, ErrPathMismatch
	}
	bodyHash := canonicaljson.Hash(req.Body, req.ContentType)
	if approval.PayloadHash != bodyHash {
		return nil, ErrPayloadMismatch
	}

	if err := s.store.ConsumeApproval(ctx, approval.ID, now); err != nil {
		return nil, fmt.Errorf("consume approval %s: %w", approval.ID, err)
	}
	if err := s.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventApprovalConsumed,
		Payload:   map[string]any{"approval_id": approval.ID, "consumed_by": req.CurrentPrincipal},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("append audit for consumed approval %s: %w", approval.ID, err)
	}

	approval.Status = domain.ApprovalConsumed
	approval.ConsumedAt = &now
	return approval, nil
}

func canonicalGatePath(path, query string) (string, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "/") {
		return "", ErrPathMismatch
	}
	query = strings.TrimSpace(query)
	query = strings.TrimPrefix(query, "?")
	if query == "" {
		return path, nil
	}
	return path + "?" + query, nil
}
