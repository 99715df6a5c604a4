package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store"
)

// setupTestStore starts a throwaway Postgres container, runs the embedded
// migrations against it, and returns a connected Store — grounded on
// internal/infrastructure/repository/postgres_history_test.go's
// setupTestDB helper.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("cmdb_test"),
		tcpostgres.WithUsername("cmdb"),
		tcpostgres.WithPassword("cmdb"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, Migrate(connStr))

	s, err := Connect(ctx, Config{URL: connStr}, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s
}

func TestStore_CreateAndGetCI(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ci := &domain.CI{
		ID:         uuid.New().String(),
		Name:       "web-01",
		CIType:     "server",
		Source:     "manual",
		Status:     domain.CIStatusActive,
		Attributes: domain.Attributes{"env": "prod"},
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateCI(ctx, ci))

	got, err := s.GetCI(ctx, ci.ID)
	require.NoError(t, err)
	require.Equal(t, ci.Name, got.Name)
	require.Equal(t, "prod", got.Attributes["env"])
}

func TestStore_IdentityUniquenessEnforced(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ciA := &domain.CI{ID: uuid.New().String(), Name: "a", CIType: "server", Source: "manual", Status: domain.CIStatusActive, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	ciB := &domain.CI{ID: uuid.New().String(), Name: "b", CIType: "server", Source: "manual", Status: domain.CIStatusActive, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateCI(ctx, ciA))
	require.NoError(t, s.CreateCI(ctx, ciB))

	require.NoError(t, s.CreateIdentity(ctx, &domain.Identity{ID: uuid.New().String(), CIID: ciA.ID, Scheme: "hostname", Value: "web-01", CreatedAt: now}))

	err := s.CreateIdentity(ctx, &domain.Identity{ID: uuid.New().String(), CIID: ciB.ID, Scheme: "hostname", Value: "web-01", CreatedAt: now})
	require.Error(t, err)
}

func TestStore_ClaimNextSyncJob_ConditionalUpdate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &domain.SyncJob{
		ID: uuid.New().String(), JobType: "netbox.import", Payload: map[string]any{},
		MaxAttempts: 3, NextRunAt: now.Add(-time.Second), CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.EnqueueSyncJob(ctx, job))

	claimed, err := s.ClaimNextSyncJob(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, domain.SyncJobRunning, claimed.Status)

	none, err := s.ClaimNextSyncJob(ctx, now)
	require.NoError(t, err)
	require.Nil(t, none, "a second claim attempt must find no QUEUED job left")
}

func TestStore_CollisionCreateIsIdempotentOnOpen(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ciA := &domain.CI{ID: uuid.New().String(), Name: "a", CIType: "server", Source: "manual", Status: domain.CIStatusActive, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	ciB := &domain.CI{ID: uuid.New().String(), Name: "b", CIType: "server", Source: "manual", Status: domain.CIStatusActive, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateCI(ctx, ciA))
	require.NoError(t, s.CreateCI(ctx, ciB))

	collision := &domain.GovernanceCollision{ID: uuid.New().String(), Scheme: "scheme-x", Value: "id-a", ExistingCIID: ciA.ID, IncomingCIID: ciB.ID, CreatedAt: now}
	created, err := s.CreateCollision(ctx, collision)
	require.NoError(t, err)
	require.True(t, created)

	dup := *collision
	dup.ID = uuid.New().String()
	created, err = s.CreateCollision(ctx, &dup)
	require.NoError(t, err)
	require.False(t, created, "a second OPEN collision for the same tuple must not be created")
}

var _ store.Store = (*Store)(nil)
