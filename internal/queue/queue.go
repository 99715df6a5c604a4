// Package queue runs the DB-backed sync-job queue (spec.md §4.5): claim
// the oldest ready QUEUED job via a conditional UPDATE so concurrent
// workers never double-process one job, dispatch it to a registered
// handler by job_type, and on failure reschedule with exponential
// backoff until max_attempts is exhausted. Grounded on
// original_source/app/services/sync_jobs.py.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

const (
	JobTypeNetBoxImport  = "netbox.import"
	JobTypeBackstageSync = "backstage.sync"
)

// JobHandler executes one claimed job's payload, returning the result
// recorded on success. A returned error is classified into the job's
// last_error via classifyError.
type JobHandler func(ctx context.Context, job *domain.SyncJob) (map[string]any, error)

// TelemetryHook is notified of terminal job failures (spec.md §4.5's
// "record a sync.job_failed telemetry tick"). cmd/server wires it to the
// internal/telemetry Recorder; nil is a valid no-op.
type TelemetryHook func(event string)

// Worker polls the sync-job queue and executes claimed jobs against
// registered handlers. It is safe to run many Workers against the same
// store concurrently: ClaimNextSyncJob's conditional update is what
// makes that safe, not anything in this type.
type Worker struct {
	store            store.Store
	clock            clock.Clock
	logger           *slog.Logger
	handlers         map[string]JobHandler
	pollInterval     time.Duration
	retryBaseSeconds int
	onTerminalFail   TelemetryHook

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New builds a Worker. pollInterval bounds how long the worker sleeps
// when nothing is claimable; retryBaseSeconds is the exponential-backoff
// base (spec.md's base · 2^(attempt_count-1)).
func New(st store.Store, clk clock.Clock, pollInterval time.Duration, retryBaseSeconds int, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if retryBaseSeconds <= 0 {
		retryBaseSeconds = 30
	}
	return &Worker{
		store:            st,
		clock:            clk,
		logger:           logger,
		handlers:         make(map[string]JobHandler),
		pollInterval:     pollInterval,
		retryBaseSeconds: retryBaseSeconds,
	}
}

// Register binds a handler to a job_type. Call before Start.
func (w *Worker) Register(jobType string, handler JobHandler) {
	w.handlers[jobType] = handler
}

// OnTerminalFailure sets the telemetry hook invoked when a job exhausts
// its attempts.
func (w *Worker) OnTerminalFailure(hook TelemetryHook) {
	w.onTerminalFail = hook
}

// Enqueue inserts a new QUEUED job.
func (w *Worker) Enqueue(ctx context.Context, jobType string, payload map[string]any, requestedBy *string, maxAttempts int) (*domain.SyncJob, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	now := w.clock.Now()
	job := &domain.SyncJob{
		ID:          uuid.NewString(),
		JobType:     jobType,
		Status:      domain.SyncJobQueued,
		RequestedBy: requestedBy,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.store.EnqueueSyncJob(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue sync job: %w", err)
	}
	if err := w.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventIntegrationJobQueued,
		Payload: map[string]any{
			"job_id":       job.ID,
			"job_type":     job.JobType,
			"requested_by": requestedBy,
			"payload":      payload,
		},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("append audit for queued job %s: %w", job.ID, err)
	}
	return job, nil
}

func retryDelay(baseSeconds, attemptCount int) time.Duration {
	if attemptCount < 1 {
		attemptCount = 1
	}
	exponent := attemptCount - 1
	seconds := baseSeconds
	for i := 0; i < exponent; i++ {
		seconds *= 2
	}
	return time.Duration(seconds) * time.Second
}

// ProcessNext claims and executes at most one job, returning whether a
// job was claimed at all (false means the queue had nothing ready).
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	now := w.clock.Now()
	job, err := w.store.ClaimNextSyncJob(ctx, now)
	if err != nil {
		return false, fmt.Errorf("claim next sync job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventIntegrationJobStarted,
		Payload:   map[string]any{"job_id": job.ID, "job_type": job.JobType},
		CreatedAt: now,
	}); err != nil {
		w.logger.ErrorContext(ctx, "failed to append job-started audit event", slog.String("job_id", job.ID), slog.Any("error", err))
	}

	w.execute(ctx, job)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, job *domain.SyncJob) {
	handler, ok := w.handlers[job.JobType]
	if !ok {
		w.fail(ctx, job, fmt.Errorf("unsupported sync job type: %s", job.JobType))
		return
	}

	result, err := handler(ctx, job)
	if err != nil {
		w.logger.ErrorContext(ctx, "sync job execution failed",
			slog.String("job_id", job.ID), slog.String("job_type", job.JobType), slog.Any("error", err))
		w.fail(ctx, job, err)
		return
	}
	w.succeed(ctx, job, result)
}

func (w *Worker) succeed(ctx context.Context, job *domain.SyncJob, result map[string]any) {
	now := w.clock.Now()
	if err := w.store.CompleteSyncJobSuccess(ctx, job.ID, result, now); err != nil {
		w.logger.ErrorContext(ctx, "failed to record sync job success", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	if err := w.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventIntegrationJobSucceeded,
		Payload:   map[string]any{"job_id": job.ID, "job_type": job.JobType, "result": result},
		CreatedAt: now,
	}); err != nil {
		w.logger.ErrorContext(ctx, "failed to append job-succeeded audit event", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

func (w *Worker) fail(ctx context.Context, job *domain.SyncJob, cause error) {
	now := w.clock.Now()
	reason := classifyError(cause)
	newAttemptCount := job.AttemptCount + 1
	terminal := newAttemptCount >= job.MaxAttempts

	var completedAt *time.Time
	nextRunAt := now
	if terminal {
		completedAt = &now
	} else {
		nextRunAt = now.Add(retryDelay(w.retryBaseSeconds, newAttemptCount))
	}

	if err := w.store.CompleteSyncJobFailure(ctx, job.ID, reason, nextRunAt, terminal, completedAt); err != nil {
		w.logger.ErrorContext(ctx, "failed to record sync job failure", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}

	if terminal {
		if err := w.store.AppendAudit(ctx, &domain.AuditEvent{
			ID:        uuid.NewString(),
			EventType: domain.EventIntegrationJobFailed,
			Payload: map[string]any{
				"job_id": job.ID, "job_type": job.JobType,
				"attempt_count": newAttemptCount, "max_attempts": job.MaxAttempts, "error": reason,
			},
			CreatedAt: now,
		}); err != nil {
			w.logger.ErrorContext(ctx, "failed to append job-failed audit event", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		if w.onTerminalFail != nil {
			w.onTerminalFail("sync.job_failed")
		}
		return
	}

	if err := w.store.AppendAudit(ctx, &domain.AuditEvent{
		ID:        uuid.NewString(),
		EventType: domain.EventIntegrationJobRetryScheduled,
		Payload: map[string]any{
			"job_id": job.ID, "job_type": job.JobType,
			"attempt_count": newAttemptCount, "max_attempts": job.MaxAttempts,
			"retry_in_seconds": nextRunAt.Sub(now).Seconds(), "error": reason,
		},
		CreatedAt: now,
	}); err != nil {
		w.logger.ErrorContext(ctx, "failed to append job-retry audit event", slog.String("job_id", job.ID), slog.Any("error", err))
	}
}

// Start runs the poll loop in a background goroutine until Stop is
// called. Calling Start twice without an intervening Stop is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	w.mu.Unlock()

	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)
	w.logger.Info("sync worker started")
	for {
		select {
		case <-w.stopCh:
			w.logger.Info("sync worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("sync worker stopped", slog.Any("reason", ctx.Err()))
			return
		default:
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "sync worker loop error", slog.Any("error", err))
		}
		if !processed {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// Stop signals the poll loop to exit and waits up to timeout for it to
// finish, mirroring the original's thread join-with-timeout shutdown.
func (w *Worker) Stop(timeout time.Duration) {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	done := w.doneCh
	w.running = false
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		w.logger.Warn("sync worker did not stop within timeout", slog.Duration("timeout", timeout))
	}
}
