package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
)

// AppendAudit writes one append-only audit log entry.
func (s *Store) AppendAudit(ctx context.Context, event *domain.AuditEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_events (id, ci_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.CIID, event.EventType, payload, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

const auditColumns = "id, ci_id, event_type, payload, created_at"

func scanAuditRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*domain.AuditEvent, error) {
	var out []*domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		var payload []byte
		if err := rows.Scan(&event.ID, &event.CIID, &event.EventType, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &event.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal audit payload: %w", err)
			}
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

// ListAuditForCI returns the audit trail for one CI, newest first.
func (s *Store) ListAuditForCI(ctx context.Context, ciID string, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_events WHERE ci_id=$1 ORDER BY created_at DESC LIMIT $2`, ciID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit for ci: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// ExportAudit returns the most recent audit entries across all CIs, for the
// NDJSON export endpoint.
func (s *Store) ExportAudit(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 || limit > 100000 {
		limit = 10000
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("export audit: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// ListRecentAudit returns events created at or after since, oldest first —
// the feed the dashboard activity stream and websocket tail from.
func (s *Store) ListRecentAudit(ctx context.Context, since time.Time, limit int) ([]*domain.AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_events WHERE created_at >= $1 ORDER BY created_at ASC LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit: %w", err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}
