package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
	"github.com/unifiedcmdb/cmdb-core/internal/store/storetest"
)

type recordingTracker struct {
	summaries []string
}

func (t *recordingTracker) CreateIssue(ctx context.Context, summary string, details map[string]any) {
	t.summaries = append(t.summaries, summary)
}

func strPtr(s string) *string { return &s }

var precedence = []string{"manual", "azure", "vcenter", "zabbix", "k8s"}

func newReconciler(t *testing.T, st store.Store, clk clock.Clock, tracker *recordingTracker) *Reconciler {
	t.Helper()
	r, err := New(st, clk, precedence, tracker, nil, 0)
	require.NoError(t, err)
	return r
}

// Scenario 1 (spec.md §8): re-ingesting from a higher-precedence source
// overwrites the CI and emits exactly one ci.updated audit event.
func TestReconcile_PrecedenceOverwritesLowerRankedSource(t *testing.T) {
	st := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newReconciler(t, st, clk, &recordingTracker{})
	ctx := context.Background()

	payload := Payload{
		Name:   "old",
		CIType: "server",
		Owner:  strPtr("team-a"),
		Identities: []IdentityRef{
			{Scheme: "hostname", Value: "web-01"},
		},
	}
	ci, created, collisions, err := r.Reconcile(ctx, "azure", payload)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, collisions)
	assert.Equal(t, "old", ci.Name)
	assert.Equal(t, "azure", ci.Source)

	clk.Advance(time.Hour)
	payload.Name = "new"
	payload.Owner = strPtr("team-a")
	ci2, created2, _, err := r.Reconcile(ctx, "manual", payload)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, ci.ID, ci2.ID)
	assert.Equal(t, "new", ci2.Name)
	assert.Equal(t, "manual", ci2.Source)

	audit, err := st.ListAuditForCI(ctx, ci.ID, 100)
	require.NoError(t, err)
	updated := 0
	for _, e := range audit {
		if e.EventType == domain.EventCIUpdated {
			updated++
		}
	}
	assert.Equal(t, 1, updated)
}

// Scenario 2 (spec.md §8): re-ingesting a payload whose identities span two
// already-distinct CIs records an OPEN collision and returns created=false.
func TestReconcile_CollisionRecordedOnReingestWithSwappedIdentities(t *testing.T) {
	st := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newReconciler(t, st, clk, &recordingTracker{})
	ctx := context.Background()

	ciA, _, _, err := r.Reconcile(ctx, "manual", Payload{
		Name: "ci-a", CIType: "server", Owner: strPtr("team-a"),
		Identities: []IdentityRef{{Scheme: "scheme-x", Value: "id-a"}},
	})
	require.NoError(t, err)

	ciB, _, _, err := r.Reconcile(ctx, "azure", Payload{
		Name: "ci-b", CIType: "server", Owner: strPtr("team-b"),
		Identities: []IdentityRef{{Scheme: "scheme-x", Value: "id-b"}},
	})
	require.NoError(t, err)

	merged, created, collisions, err := r.Reconcile(ctx, "manual", Payload{
		Name: "merged", CIType: "server", Owner: strPtr("team-a"),
		Identities: []IdentityRef{
			{Scheme: "scheme-x", Value: "id-b"},
			{Scheme: "scheme-x", Value: "id-a"},
		},
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.GreaterOrEqual(t, collisions, 1)
	assert.Equal(t, ciB.ID, merged.ID)

	open, err := st.ListCollisions(ctx, store.CollisionFilter{Status: "open"})
	require.NoError(t, err)
	require.NotEmpty(t, open)
	// Several OPEN collisions share one created_at, so their list order is
	// not fixed; look for the one whose incoming CI is ciA.
	var fromA *domain.GovernanceCollision
	for _, c := range open {
		if c.IncomingCIID == ciA.ID {
			fromA = c
			break
		}
	}
	require.NotNil(t, fromA, "no OPEN collision with incoming ciA")
	assert.Equal(t, ciB.ID, fromA.ExistingCIID)
}

func TestReconcile_MissingOwnerFlagsGovernance(t *testing.T) {
	st := storetest.New()
	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := &recordingTracker{}
	r := newReconciler(t, st, clk, tracker)
	ctx := context.Background()

	ci, _, _, err := r.Reconcile(ctx, "manual", Payload{
		Name:       "no-owner",
		CIType:     "server",
		Identities: []IdentityRef{{Scheme: "hostname", Value: "orphan-01"}},
	})
	require.NoError(t, err)

	assert.Contains(t, tracker.summaries, "Missing CI ownership")
	audit, err := st.ListAuditForCI(ctx, ci.ID, 100)
	require.NoError(t, err)
	found := false
	for _, e := range audit {
		if e.EventType == domain.EventGovernanceOwnerMissing {
			found = true
		}
	}
	assert.True(t, found)
}

func TestReconcile_LastSeenAtMonotonic(t *testing.T) {
	st := storetest.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewFixed(base)
	r := newReconciler(t, st, clk, &recordingTracker{})
	ctx := context.Background()

	payload := Payload{
		Name: "x", CIType: "server", Owner: strPtr("team"),
		Identities: []IdentityRef{{Scheme: "hostname", Value: "mono-01"}},
		LastSeenAt: func() *time.Time { t := base.Add(48 * time.Hour); return &t }(),
	}
	ci, _, _, err := r.Reconcile(ctx, "manual", payload)
	require.NoError(t, err)
	firstSeen := ci.LastSeenAt

	earlier := base.Add(time.Hour)
	payload.LastSeenAt = &earlier
	ci2, _, _, err := r.Reconcile(ctx, "manual", payload)
	require.NoError(t, err)

	assert.True(t, ci2.LastSeenAt.Equal(firstSeen) || ci2.LastSeenAt.After(firstSeen))
}

func TestReconcile_RequiresAtLeastOneIdentity(t *testing.T) {
	st := storetest.New()
	clk := clock.NewFixed(time.Now())
	r := newReconciler(t, st, clk, &recordingTracker{})

	_, _, _, err := r.Reconcile(context.Background(), "manual", Payload{Name: "x", CIType: "server"})
	assert.Error(t, err)
}
