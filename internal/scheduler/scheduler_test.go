package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/queue"
	"github.com/unifiedcmdb/cmdb-core/internal/store/storetest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, defs []ScheduleDefinition, now time.Time) (*Scheduler, *storetest.Store, *clock.Fixed, *queue.Worker) {
	t.Helper()
	st := storetest.New()
	clk := clock.NewFixed(now)
	q := queue.New(st, clk, time.Millisecond, 1, discardLogger())
	s := New(st, clk, q, defs, time.Millisecond, time.Millisecond, discardLogger())
	return s, st, clk, q
}

func countAuditEventsOfType(t *testing.T, st *storetest.Store, eventType string) int {
	t.Helper()
	events, err := st.ExportAudit(context.Background(), 1000)
	require.NoError(t, err)
	count := 0
	for _, e := range events {
		if e.EventType == eventType {
			count++
		}
	}
	return count
}

func TestEvaluateSchedule_NotDueSkipsEntirely(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	def := ScheduleDefinition{Name: ScheduleNetBoxImport, JobType: queue.JobTypeNetBoxImport, Enabled: true, IntervalSeconds: 3600}
	s, st, _, _ := newTestScheduler(t, []ScheduleDefinition{def}, now)

	require.NoError(t, st.SetSyncState(context.Background(), scheduleStateKey(def.Name), now.Add(time.Hour).Format(time.RFC3339), now))

	enqueued, err := s.EvaluateSchedule(context.Background(), def)
	require.NoError(t, err)
	assert.False(t, enqueued)
}

func TestEvaluateSchedule_NotReadyAdvancesWatermarkAndEmitsSkipped(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	def := ScheduleDefinition{
		Name: ScheduleBackstageSync, JobType: queue.JobTypeBackstageSync, Enabled: true, IntervalSeconds: 60,
		Ready: func() (bool, string) { return false, "backstage_url_missing" },
	}
	s, st, _, _ := newTestScheduler(t, []ScheduleDefinition{def}, now)

	enqueued, err := s.EvaluateSchedule(context.Background(), def)
	require.NoError(t, err)
	assert.False(t, enqueued)

	assert.Equal(t, 1, countAuditEventsOfType(t, st, domain.EventIntegrationScheduleSkipped))

	state, err := st.GetSyncState(context.Background(), scheduleStateKey(def.Name))
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, now.Add(60*time.Second).Format(time.RFC3339), state.Value)
}

func TestEvaluateSchedule_ReadyEnqueuesAndAdvancesWatermark(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	def := ScheduleDefinition{
		Name: ScheduleNetBoxImport, JobType: queue.JobTypeNetBoxImport, Enabled: true, IntervalSeconds: 300,
		Payload: map[string]any{"limit": 500},
		Ready:   func() (bool, string) { return true, "" },
	}
	s, st, _, _ := newTestScheduler(t, []ScheduleDefinition{def}, now)

	enqueued, err := s.EvaluateSchedule(context.Background(), def)
	require.NoError(t, err)
	assert.True(t, enqueued)

	jobs, err := st.ListSyncJobs(context.Background(), string(domain.SyncJobQueued), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.JobTypeNetBoxImport, jobs[0].JobType)
	require.NotNil(t, jobs[0].RequestedBy)
	assert.Equal(t, requestedByScheduler, *jobs[0].RequestedBy)
	assert.Equal(t, true, jobs[0].Payload["scheduled"])
	assert.Equal(t, def.Name, jobs[0].Payload["schedule_name"])
	assert.EqualValues(t, 500, jobs[0].Payload["limit"])

	assert.Equal(t, 1, countAuditEventsOfType(t, st, domain.EventIntegrationScheduleTriggered))

	state, err := st.GetSyncState(context.Background(), scheduleStateKey(def.Name))
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, now.Add(300*time.Second).Format(time.RFC3339), state.Value)
}

func TestEvaluateSchedule_InflightJobSkipsEnqueueButStillAdvancesWatermark(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	def := ScheduleDefinition{
		Name: ScheduleNetBoxImport, JobType: queue.JobTypeNetBoxImport, Enabled: true, IntervalSeconds: 300,
		Ready: func() (bool, string) { return true, "" },
	}
	s, st, _, q := newTestScheduler(t, []ScheduleDefinition{def}, now)

	requestedBy := requestedByScheduler
	_, err := q.Enqueue(context.Background(), def.JobType, map[string]any{}, &requestedBy, 3)
	require.NoError(t, err)

	enqueued, err := s.EvaluateSchedule(context.Background(), def)
	require.NoError(t, err)
	assert.False(t, enqueued)

	jobs, err := st.ListSyncJobs(context.Background(), string(domain.SyncJobQueued), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	assert.Equal(t, 0, countAuditEventsOfType(t, st, domain.EventIntegrationScheduleTriggered))

	state, err := st.GetSyncState(context.Background(), scheduleStateKey(def.Name))
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, now.Add(300*time.Second).Format(time.RFC3339), state.Value)
}

func TestEvaluateSchedule_DisabledIsNoOp(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	def := ScheduleDefinition{Name: ScheduleNetBoxImport, JobType: queue.JobTypeNetBoxImport, Enabled: false, IntervalSeconds: 300}
	s, st, _, _ := newTestScheduler(t, []ScheduleDefinition{def}, now)

	enqueued, err := s.EvaluateSchedule(context.Background(), def)
	require.NoError(t, err)
	assert.False(t, enqueued)

	state, err := st.GetSyncState(context.Background(), scheduleStateKey(def.Name))
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSweepExpiredApprovals_ZeroCountEmitsNoAudit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, st, _, _ := newTestScheduler(t, nil, now)

	count, err := s.SweepExpiredApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 0, countAuditEventsOfType(t, st, domain.EventApprovalExpired))
}

func TestSweepExpiredApprovals_PositiveCountEmitsAuditWithCount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, st, _, _ := newTestScheduler(t, nil, now)

	require.NoError(t, st.CreateApproval(context.Background(), &domain.ChangeApproval{
		ID: "appr-1", Method: "PATCH", RequestPath: "/cis/ci-1", PayloadHash: "hash-1",
		RequestedBy: "alice", Status: domain.ApprovalPending,
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	count, err := s.SweepExpiredApprovals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, countAuditEventsOfType(t, st, domain.EventApprovalExpired))
}

func TestStartStop_EvaluatesScheduleAndSweepsThenStopsCleanly(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var readyCalls int32
	def := ScheduleDefinition{
		Name: ScheduleNetBoxImport, JobType: queue.JobTypeNetBoxImport, Enabled: true, IntervalSeconds: 300,
		Ready: func() (bool, string) { atomic.AddInt32(&readyCalls, 1); return true, "" },
	}
	s, st, _, _ := newTestScheduler(t, []ScheduleDefinition{def}, now)

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&readyCalls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop(time.Second)

	assert.True(t, atomic.LoadInt32(&readyCalls) > 0)
	jobs, err := st.ListSyncJobs(context.Background(), string(domain.SyncJobQueued), 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
