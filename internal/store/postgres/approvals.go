package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// CreateApproval inserts a PENDING approval row.
func (s *Store) CreateApproval(ctx context.Context, approval *domain.ChangeApproval) error {
	preview, err := json.Marshal(approval.PayloadPreview)
	if err != nil {
		return fmt.Errorf("marshal payload preview: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO change_approvals (id, method, request_path, payload_hash, payload_preview, reason, requested_by, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING', $8, $9)`,
		approval.ID, approval.Method, approval.RequestPath, approval.PayloadHash, preview, approval.Reason,
		approval.RequestedBy, approval.CreatedAt, approval.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

const approvalColumns = "id, method, request_path, payload_hash, payload_preview, reason, requested_by, status, decided_by, decision_note, created_at, expires_at, decided_at, consumed_at"

func scanApproval(row pgx.Row) (*domain.ChangeApproval, error) {
	var a domain.ChangeApproval
	var status string
	var preview []byte

	err := row.Scan(&a.ID, &a.Method, &a.RequestPath, &a.PayloadHash, &preview, &a.Reason, &a.RequestedBy, &status,
		&a.DecidedBy, &a.DecisionNote, &a.CreatedAt, &a.ExpiresAt, &a.DecidedAt, &a.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan approval: %w", err)
	}

	a.Status = domain.ApprovalStatus(status)
	if len(preview) > 0 {
		if err := json.Unmarshal(preview, &a.PayloadPreview); err != nil {
			return nil, fmt.Errorf("unmarshal payload preview: %w", err)
		}
	}
	return &a, nil
}

// GetApproval loads an approval by ID.
func (s *Store) GetApproval(ctx context.Context, id string) (*domain.ChangeApproval, error) {
	row := s.db.QueryRow(ctx, "SELECT "+approvalColumns+" FROM change_approvals WHERE id=$1", id)
	return scanApproval(row)
}

// ListApprovals lists approvals, optionally filtered by status.
func (s *Store) ListApprovals(ctx context.Context, status string, limit int) ([]*domain.ChangeApproval, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := "SELECT " + approvalColumns + " FROM change_approvals"
	var args []any
	if status != "" {
		query += " WHERE status=$1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []*domain.ChangeApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindApprovedApproval finds a non-expired APPROVED approval binding this
// exact (method, path, payload hash) tuple — the maker-checker gate's
// lookup on every mutating request.
func (s *Store) FindApprovedApproval(ctx context.Context, method, path, payloadHash string, now time.Time) (*domain.ChangeApproval, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+approvalColumns+` FROM change_approvals
		WHERE method=$1 AND request_path=$2 AND payload_hash=$3 AND status='APPROVED' AND expires_at > $4
		ORDER BY created_at DESC LIMIT 1`, method, path, payloadHash, now)
	return scanApproval(row)
}

// DecideApproval transitions a PENDING approval to APPROVED or REJECTED.
func (s *Store) DecideApproval(ctx context.Context, id, status, decidedBy string, decisionNote *string, decidedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE change_approvals SET status=$2, decided_by=$3, decision_note=$4, decided_at=$5
		WHERE id=$1 AND status='PENDING'`, id, status, decidedBy, decisionNote, decidedAt)
	if err != nil {
		return fmt.Errorf("decide approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

// ConsumeApproval transitions an APPROVED approval to CONSUMED. Only called
// after the bound mutating handler's transaction has committed, so a failed
// handler leaves the approval APPROVED and retryable (spec.md §7).
func (s *Store) ConsumeApproval(ctx context.Context, id string, consumedAt time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE change_approvals SET status='CONSUMED', consumed_at=$2
		WHERE id=$1 AND status='APPROVED'`, id, consumedAt)
	if err != nil {
		return fmt.Errorf("consume approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

// ExpireApprovals transitions every PENDING approval whose TTL has elapsed
// to REJECTED and reports how many rows were affected — the scheduler's
// approval-expiry sweep.
func (s *Store) ExpireApprovals(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE change_approvals SET status='REJECTED', decision_note='expired', decided_at=$1
		WHERE status = 'PENDING' AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("expire approvals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
