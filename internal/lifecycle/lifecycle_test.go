package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
	"github.com/unifiedcmdb/cmdb-core/internal/store/storetest"
)

var thresholds = Thresholds{StagingDays: 30, ReviewDays: 90, RetiredDays: 120}

func seedCI(t *testing.T, st store.Store, lastSeen time.Time, status domain.CIStatus) *domain.CI {
	t.Helper()
	ci := &domain.CI{
		ID: uuid.NewString(), Name: "host-01", CIType: "server", Source: "manual",
		Status: status, Attributes: domain.Attributes{}, LastSeenAt: lastSeen,
		CreatedAt: lastSeen, UpdatedAt: lastSeen,
	}
	require.NoError(t, st.CreateCI(context.Background(), ci))
	return ci
}

// Scenario 3 (spec.md §8): a CI inactive for 95 days with thresholds
// 30/90/120 transitions ACTIVE -> RETIREMENT_REVIEW with inactive_days:95.
func TestRun_TransitionsToRetirementReviewAt95Days(t *testing.T) {
	st := storetest.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	ci := seedCI(t, st, now.Add(-95*24*time.Hour), domain.CIStatusActive)

	svc := New(st, clk, thresholds, nil, 0)
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transitioned)

	updated, err := st.GetCI(context.Background(), ci.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CIStatusRetirementReview, updated.Status)

	audit, err := st.ListAuditForCI(context.Background(), ci.ID, 100)
	require.NoError(t, err)
	var found *domain.AuditEvent
	for _, e := range audit {
		if e.EventType == domain.EventCILifecycleTransitioned {
			found = e
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "ACTIVE", found.Payload["from"])
	assert.Equal(t, "RETIREMENT_REVIEW", found.Payload["to"])
	assert.EqualValues(t, 95, found.Payload["inactive_days"])
}

// Invariant (spec.md §8): running the pass twice at a fixed clock with no
// new data produces zero transitions on the second run.
func TestRun_IdempotentAtFixedClock(t *testing.T) {
	st := storetest.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	seedCI(t, st, now.Add(-200*24*time.Hour), domain.CIStatusActive)

	svc := New(st, clk, thresholds, nil, 0)
	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Transitioned)

	second, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Transitioned)
}

func TestRun_DetectsOrphanCI(t *testing.T) {
	st := storetest.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	orphan := seedCI(t, st, now, domain.CIStatusActive)
	connected := seedCI(t, st, now, domain.CIStatusActive)
	other := seedCI(t, st, now, domain.CIStatusActive)

	require.NoError(t, st.CreateRelationship(context.Background(), &domain.Relationship{
		ID: uuid.NewString(), SourceCIID: connected.ID, TargetCIID: other.ID,
		RelationType: "depends_on", Source: "manual", CreatedAt: now,
	}))

	svc := New(st, clk, thresholds, nil, 0)
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrphansFound)

	audit, err := st.ListAuditForCI(context.Background(), orphan.ID, 100)
	require.NoError(t, err)
	found := false
	for _, e := range audit {
		if e.EventType == domain.EventGovernanceOrphanDetected {
			found = true
		}
	}
	assert.True(t, found)

	connAudit, err := st.ListAuditForCI(context.Background(), connected.ID, 100)
	require.NoError(t, err)
	for _, e := range connAudit {
		assert.NotEqual(t, domain.EventGovernanceOrphanDetected, e.EventType)
	}
}

func TestRun_NoThresholdCrossedProducesNoTransitions(t *testing.T) {
	st := storetest.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(now)
	seedCI(t, st, now.Add(-1*time.Hour), domain.CIStatusActive)

	svc := New(st, clk, thresholds, nil, 0)
	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Transitioned)
}
