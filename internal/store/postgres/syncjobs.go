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

// EnqueueSyncJob inserts a QUEUED job row.
func (s *Store) EnqueueSyncJob(ctx context.Context, job *domain.SyncJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_jobs (id, job_type, status, requested_by, payload, max_attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, 'QUEUED', $3, $4, $5, $6, $7, $8)`,
		job.ID, job.JobType, job.RequestedBy, payload, job.MaxAttempts, job.NextRunAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert sync job: %w", err)
	}
	return nil
}

const syncJobColumns = "id, job_type, status, requested_by, payload, result, last_error, attempt_count, max_attempts, next_run_at, started_at, completed_at, created_at, updated_at"

func scanSyncJob(row pgx.Row) (*domain.SyncJob, error) {
	var job domain.SyncJob
	var status string
	var payload, result []byte

	err := row.Scan(&job.ID, &job.JobType, &status, &job.RequestedBy, &payload, &result, &job.LastError,
		&job.AttemptCount, &job.MaxAttempts, &job.NextRunAt, &job.StartedAt, &job.CompletedAt, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan sync job: %w", err)
	}

	job.Status = domain.SyncJobStatus(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal job payload: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return &job, nil
}

// ClaimNextSyncJob atomically claims the oldest QUEUED job whose next_run_at
// has elapsed, transitioning it to RUNNING. The UPDATE ... WHERE status=
// 'QUEUED' RETURNING pattern (rather than SELECT then UPDATE) is what makes
// this safe with more than one worker polling concurrently — grounded on
// _claim_next_job's conditional-update claim in the original service.
func (s *Store) ClaimNextSyncJob(ctx context.Context, now time.Time) (*domain.SyncJob, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE sync_jobs SET status='RUNNING', started_at=$1, updated_at=$1
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE status='QUEUED' AND next_run_at <= $1
			ORDER BY next_run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+syncJobColumns, now)

	job, err := scanSyncJob(row)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// CompleteSyncJobSuccess marks a job SUCCEEDED and stores its result map.
func (s *Store) CompleteSyncJobSuccess(ctx context.Context, id string, result map[string]any, completedAt time.Time) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE sync_jobs SET status='SUCCEEDED', result=$2, last_error=NULL, completed_at=$3, updated_at=$3
		WHERE id=$1`, id, resultJSON, completedAt)
	if err != nil {
		return fmt.Errorf("complete sync job success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteSyncJobFailure records a failed attempt. If terminal is true the
// job moves to FAILED with completedAt set; otherwise it returns to QUEUED
// with attempt_count incremented and next_run_at pushed out by the caller's
// backoff calculation.
func (s *Store) CompleteSyncJobFailure(ctx context.Context, id string, errMsg string, nextRunAt time.Time, terminal bool, completedAt *time.Time) error {
	status := "QUEUED"
	if terminal {
		status = "FAILED"
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE sync_jobs
		SET status=$2, last_error=$3, attempt_count=attempt_count+1, next_run_at=$4, completed_at=$5, updated_at=now()
		WHERE id=$1`, id, status, errMsg, nextRunAt, completedAt)
	if err != nil {
		return fmt.Errorf("complete sync job failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetSyncJob loads a job by ID.
func (s *Store) GetSyncJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	row := s.db.QueryRow(ctx, "SELECT "+syncJobColumns+" FROM sync_jobs WHERE id=$1", id)
	return scanSyncJob(row)
}

// ListSyncJobs lists jobs, optionally filtered by status, newest first.
func (s *Store) ListSyncJobs(ctx context.Context, status string, limit int) ([]*domain.SyncJob, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := "SELECT " + syncJobColumns + " FROM sync_jobs"
	var args []any
	if status != "" {
		query += " WHERE status=$1"
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.SyncJob
	for rows.Next() {
		job, err := scanSyncJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
