package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_PrunesEventsOutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(DefaultRules()).WithClock(func() time.Time { return now })

	r.Record("sync.job_failed")
	r.Record("sync.job_failed")
	snap := r.Snapshot()
	assert.Equal(t, 2, snap.Counts["sync.job_failed"])

	now = now.Add(301 * time.Second)
	snap = r.Snapshot()
	assert.Equal(t, 0, snap.Counts["sync.job_failed"])
}

func TestSnapshot_MarksRuleActiveOnceThresholdReached(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := New(DefaultRules()).WithClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		r.Record("sync.job_failed")
	}
	snap := r.Snapshot()

	var found *Alert
	for i := range snap.Rules {
		if snap.Rules[i].ID == "sync-job-failures" {
			found = &snap.Rules[i]
		}
	}
	require.NotNil(t, found)
	assert.True(t, found.Active)
	assert.Equal(t, 3, found.Current)
	assert.Contains(t, snap.ActiveAlerts, *found)
}

func TestSnapshot_RuleInactiveBelowThreshold(t *testing.T) {
	r := New(DefaultRules())
	r.Record("sync.job_failed")
	snap := r.Snapshot()

	for _, alert := range snap.Rules {
		if alert.ID == "sync-job-failures" {
			assert.False(t, alert.Active)
		}
	}
	assert.Empty(t, snap.ActiveAlerts)
}

func TestSnapshot_UntrackedEventStillCounted(t *testing.T) {
	r := New(DefaultRules())
	r.Record("custom.event")
	snap := r.Snapshot()
	assert.Equal(t, 1, snap.Counts["custom.event"])
}

func TestSnapshot_WindowSecondsIsFiveMinutes(t *testing.T) {
	snap := New(DefaultRules()).Snapshot()
	assert.Equal(t, 300, snap.WindowSeconds)
}
