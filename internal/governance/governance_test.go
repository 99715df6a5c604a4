package governance

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

func seedCollision(t *testing.T, st store.Store) *domain.GovernanceCollision {
	t.Helper()
	c := &domain.GovernanceCollision{
		ID: uuid.NewString(), Scheme: "hostname", Value: "web-01",
		ExistingCIID: uuid.NewString(), IncomingCIID: uuid.NewString(),
		Status: domain.CollisionOpen, CreatedAt: time.Now().UTC(),
	}
	created, err := st.CreateCollision(context.Background(), c)
	require.NoError(t, err)
	require.True(t, created)
	return c
}

func TestResolve_TransitionsOpenToResolved(t *testing.T) {
	st := storetest.New()
	seed := seedCollision(t, st)
	svc := New(st, clock.NewFixed(time.Now()))

	resolved, err := svc.Resolve(context.Background(), seed.ID, "duplicate hostname")
	require.NoError(t, err)
	assert.Equal(t, domain.CollisionResolved, resolved.Status)
	assert.Equal(t, "duplicate hostname", *resolved.ResolutionNote)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestResolve_AlreadyResolvedIsIdempotentNotAnError(t *testing.T) {
	st := storetest.New()
	seed := seedCollision(t, st)
	svc := New(st, clock.NewFixed(time.Now()))
	ctx := context.Background()

	_, err := svc.Resolve(ctx, seed.ID, "first")
	require.NoError(t, err)

	again, err := svc.Resolve(ctx, seed.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, domain.CollisionResolved, again.Status)
}

func TestResolve_UnknownIDReturnsNotFound(t *testing.T) {
	st := storetest.New()
	svc := New(st, clock.NewFixed(time.Now()))

	_, err := svc.Resolve(context.Background(), "does-not-exist", "note")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReopen_TransitionsResolvedBackToOpen(t *testing.T) {
	st := storetest.New()
	seed := seedCollision(t, st)
	svc := New(st, clock.NewFixed(time.Now()))
	ctx := context.Background()

	_, err := svc.Resolve(ctx, seed.ID, "note")
	require.NoError(t, err)

	reopened, err := svc.Reopen(ctx, seed.ID, "mistaken resolution")
	require.NoError(t, err)
	assert.Equal(t, domain.CollisionOpen, reopened.Status)
	assert.Nil(t, reopened.ResolutionNote)
	assert.Nil(t, reopened.ResolvedAt)
}

func TestList_FiltersByStatus(t *testing.T) {
	st := storetest.New()
	open := seedCollision(t, st)
	toResolve := seedCollision(t, st)
	svc := New(st, clock.NewFixed(time.Now()))
	ctx := context.Background()

	_, err := svc.Resolve(ctx, toResolve.ID, "note")
	require.NoError(t, err)

	openList, err := svc.List(ctx, "open")
	require.NoError(t, err)
	require.Len(t, openList, 1)
	assert.Equal(t, open.ID, openList[0].ID)

	resolvedList, err := svc.List(ctx, "resolved")
	require.NoError(t, err)
	require.Len(t, resolvedList, 1)
	assert.Equal(t, toResolve.ID, resolvedList[0].ID)

	all, err := svc.List(ctx, "all")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
