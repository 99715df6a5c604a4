// Package scheduler owns two periodic concerns (spec.md §4.6): deciding
// when each named sync schedule (netbox-import, backstage-sync) is due
// and enqueuing a job for it, and sweeping expired maker-checker
// approvals. Grounded on
// original_source/app/services/sync_jobs.py's schedule-evaluation and
// approval-cleanup loops.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/queue"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

const (
	ScheduleNetBoxImport  = "netbox-import"
	ScheduleBackstageSync = "backstage-sync"

	requestedByScheduler = "scheduler"
)

// ReadinessCheck reports whether a named schedule's prerequisites
// (required URLs/tokens, required feature flag) are currently satisfied.
// Returning false with a reason still advances next_run_at — spec.md
// §4.6: "If not ready, still advance next_run_at ... and emit
// integration.schedule.skipped{reason}".
type ReadinessCheck func() (ready bool, reason string)

// ScheduleDefinition is one named, recurring sync job.
type ScheduleDefinition struct {
	Name            string
	JobType         string
	Enabled         bool
	IntervalSeconds int
	Payload         map[string]any
	Ready           ReadinessCheck
}

func scheduleStateKey(name string) string {
	return fmt.Sprintf("sync.schedule.%s.next_run_at", name)
}

// Scheduler evaluates schedule readiness/due-ness and sweeps expired
// approvals on its own poll loop.
type Scheduler struct {
	store                   store.Store
	clock                   clock.Clock
	queue                   *queue.Worker
	logger                  *slog.Logger
	schedules               []ScheduleDefinition
	pollInterval            time.Duration
	approvalCleanupInterval time.Duration

	mu            sync.Mutex
	stopCh        chan struct{}
	doneCh        chan struct{}
	running       bool
	lastCleanupAt time.Time
}

// New builds a Scheduler.
func New(st store.Store, clk clock.Clock, q *queue.Worker, schedules []ScheduleDefinition, pollInterval, approvalCleanupInterval time.Duration, logger *slog.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if approvalCleanupInterval <= 0 {
		approvalCleanupInterval = 15 * time.Second
	}
	return &Scheduler{
		store:                   st,
		clock:                   clk,
		queue:                   q,
		logger:                  logger,
		schedules:               schedules,
		pollInterval:            pollInterval,
		approvalCleanupInterval: approvalCleanupInterval,
	}
}

func (s *Scheduler) parseNextRun(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// hasInflightSchedulerJob reports whether a QUEUED/RUNNING job of this
// job_type already exists with requested_by="scheduler", preventing the
// scheduler from piling up duplicate work while one run is still
// in-flight.
func (s *Scheduler) hasInflightSchedulerJob(ctx context.Context, jobType string) (bool, error) {
	for _, status := range []string{string(domain.SyncJobQueued), string(domain.SyncJobRunning)} {
		jobs, err := s.store.ListSyncJobs(ctx, status, 1000)
		if err != nil {
			return false, err
		}
		for _, job := range jobs {
			if job.JobType == jobType && job.RequestedBy != nil && *job.RequestedBy == requestedByScheduler {
				return true, nil
			}
		}
	}
	return false, nil
}

// EvaluateSchedule evaluates one schedule definition, enqueuing a job
// when it is due and ready. Returns whether a job was enqueued.
func (s *Scheduler) EvaluateSchedule(ctx context.Context, def ScheduleDefinition) (bool, error) {
	if !def.Enabled {
		return false, nil
	}
	now := s.clock.Now()
	stateKey := scheduleStateKey(def.Name)

	state, err := s.store.GetSyncState(ctx, stateKey)
	nextRun, hasNextRun := time.Time{}, false
	if err == nil && state != nil {
		nextRun, hasNextRun = s.parseNextRun(state.Value)
	}
	if hasNextRun && nextRun.After(now) {
		return false, nil
	}

	ready, reason := true, ""
	if def.Ready != nil {
		ready, reason = def.Ready()
	}
	if !ready {
		if err := s.store.SetSyncState(ctx, stateKey, now.Add(time.Duration(def.IntervalSeconds)*time.Second).Format(time.RFC3339), now); err != nil {
			return false, fmt.Errorf("advance schedule state for %s: %w", def.Name, err)
		}
		if err := s.store.AppendAudit(ctx, &domain.AuditEvent{
			ID:        uuid.NewString(),
			EventType: domain.EventIntegrationScheduleSkipped,
			Payload:   map[string]any{"schedule": def.Name, "reason": reason},
			CreatedAt: now,
		}); err != nil {
			return false, fmt.Errorf("append audit for skipped schedule %s: %w", def.Name, err)
		}
		return false, nil
	}

	enqueued := false
	inflight, err := s.hasInflightSchedulerJob(ctx, def.JobType)
	if err != nil {
		return false, fmt.Errorf("check inflight jobs for %s: %w", def.Name, err)
	}
	if !inflight {
		payload := make(map[string]any, len(def.Payload)+2)
		for k, v := range def.Payload {
			payload[k] = v
		}
		payload["scheduled"] = true
		payload["schedule_name"] = def.Name
		requestedBy := requestedByScheduler
		if _, err := s.queue.Enqueue(ctx, def.JobType, payload, &requestedBy, 0); err != nil {
			return false, fmt.Errorf("enqueue scheduled job for %s: %w", def.Name, err)
		}
		if err := s.store.AppendAudit(ctx, &domain.AuditEvent{
			ID:        uuid.NewString(),
			EventType: domain.EventIntegrationScheduleTriggered,
			Payload:   map[string]any{"schedule": def.Name, "job_type": def.JobType},
			CreatedAt: now,
		}); err != nil {
			return false, fmt.Errorf("append audit for triggered schedule %s: %w", def.Name, err)
		}
		enqueued = true
	}

	if err := s.store.SetSyncState(ctx, stateKey, now.Add(time.Duration(def.IntervalSeconds)*time.Second).Format(time.RFC3339), now); err != nil {
		return enqueued, fmt.Errorf("advance schedule state for %s: %w", def.Name, err)
	}
	return enqueued, nil
}

// Schedules returns the configured schedule definitions, used by the
// dashboard and integrations-status handlers to report next-run state
// without duplicating the scheduler's own configuration.
func (s *Scheduler) Schedules() []ScheduleDefinition {
	return s.schedules
}

// NextRunAt reports a schedule's persisted next-run watermark, if any.
func (s *Scheduler) NextRunAt(ctx context.Context, name string) (time.Time, bool) {
	state, err := s.store.GetSyncState(ctx, scheduleStateKey(name))
	if err != nil || state == nil {
		return time.Time{}, false
	}
	return s.parseNextRun(state.Value)
}

// EvaluateAll runs EvaluateSchedule over every configured schedule.
func (s *Scheduler) EvaluateAll(ctx context.Context) error {
	for _, def := range s.schedules {
		if _, err := s.EvaluateSchedule(ctx, def); err != nil {
			s.logger.ErrorContext(ctx, "schedule evaluation failed", slog.String("schedule", def.Name), slog.Any("error", err))
		}
	}
	return nil
}

// SweepExpiredApprovals rejects every PENDING approval whose expires_at
// has elapsed, emitting one approval.expired event carrying the count
// (spec.md §4.6); a zero count emits nothing.
func (s *Scheduler) SweepExpiredApprovals(ctx context.Context) (int, error) {
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
		Payload:   map[string]any{"count": count},
		CreatedAt: now,
	}); err != nil {
		return count, fmt.Errorf("append audit for expired approvals: %w", err)
	}
	return count, nil
}

// Start runs the scheduler's poll loop until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.loop(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	s.logger.Info("sync scheduler started")
	for {
		select {
		case <-s.stopCh:
			s.logger.Info("sync scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped", slog.Any("reason", ctx.Err()))
			return
		default:
		}

		now := s.clock.Now()
		if s.lastCleanupAt.IsZero() || now.Sub(s.lastCleanupAt) >= s.approvalCleanupInterval {
			if _, err := s.SweepExpiredApprovals(ctx); err != nil {
				s.logger.ErrorContext(ctx, "approval sweep failed", slog.Any("error", err))
			}
			s.lastCleanupAt = now
		}

		if err := s.EvaluateAll(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sync scheduler loop error", slog.Any("error", err))
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.pollInterval):
		}
	}
}

// Stop signals the poll loop to exit and waits up to timeout for it to
// finish.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("sync scheduler did not stop within timeout", slog.Duration("timeout", timeout))
	}
}
