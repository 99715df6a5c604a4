package drift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store/storetest"
)

func seedCI(t *testing.T, st *storetest.Store, now time.Time) *domain.CI {
	t.Helper()
	owner := "team-platform"
	ci := &domain.CI{
		ID: "ci-1", Name: "host-1", CIType: "server", Source: "cmdb", Owner: &owner,
		Status: domain.CIStatusActive, Attributes: domain.Attributes{"environment": "prod"},
		LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateCI(context.Background(), ci))
	require.NoError(t, st.CreateIdentity(context.Background(), &domain.Identity{
		ID: "id-1", CIID: ci.ID, Scheme: "netbox_device_id", Value: "42", CreatedAt: now,
	}))
	return ci
}

func TestCompute_NetBoxUnavailableWithoutConfig(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{Environment: "production"})

	snapshot := d.Compute(context.Background(), ci)
	assert.Equal(t, StatusUnavailable, snapshot.NetBox.Status)
	assert.Equal(t, "netbox_api_url_missing", snapshot.NetBox.Reason)
	assert.Equal(t, StatusUnavailable, snapshot.Backstage.Status)
	assert.Equal(t, "clean", snapshot.OverallStatus)
}

func TestCompute_NetBoxMatchedWhenNameAgrees(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "host-1"})
	}))
	defer srv.Close()

	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{
		NetBoxAPIURL: srv.URL, NetBoxAPIToken: "tok", Environment: "development",
	})

	snapshot := d.Compute(context.Background(), ci)
	assert.Equal(t, StatusMatched, snapshot.NetBox.Status)
	assert.Equal(t, "device", snapshot.NetBox.Kind)
}

func TestCompute_NetBoxDriftWhenNameDiffers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "host-renamed"})
	}))
	defer srv.Close()

	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{
		NetBoxAPIURL: srv.URL, NetBoxAPIToken: "tok", Environment: "development",
	})

	snapshot := d.Compute(context.Background(), ci)
	require.Equal(t, StatusDrift, snapshot.NetBox.Status)
	require.Len(t, snapshot.NetBox.Mismatches, 1)
	assert.Equal(t, "name", snapshot.NetBox.Mismatches[0].Field)
}

func TestCompute_NetBoxMissingOn404(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{
		NetBoxAPIURL: srv.URL, NetBoxAPIToken: "tok", Environment: "development",
	})

	snapshot := d.Compute(context.Background(), ci)
	assert.Equal(t, StatusMissing, snapshot.NetBox.Status)
}

func TestCompute_NetBoxNotApplicableWithoutIdentity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := storetest.New()
	owner := "team-platform"
	ci := &domain.CI{ID: "ci-2", Name: "host-2", CIType: "server", Source: "cmdb", Owner: &owner,
		Status: domain.CIStatusActive, Attributes: domain.Attributes{}, LastSeenAt: now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateCI(context.Background(), ci))

	d := New(st, clock.NewFixed(now), Config{NetBoxAPIURL: "https://netbox.example.com", NetBoxAPIToken: "tok"})
	snapshot := d.Compute(context.Background(), ci)
	assert.Equal(t, StatusNotApplicable, snapshot.NetBox.Status)
}

func TestResolve_CmdbSourceIgnoresAllFieldsWithoutMutation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{})

	result, err := d.Resolve(context.Background(), ci.ID, "service:alice", ResolveRequest{Source: "cmdb", Fields: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, result.IgnoredFields)
	assert.Empty(t, result.Applied)

	got, err := st.GetCI(context.Background(), ci.ID)
	require.NoError(t, err)
	assert.Equal(t, "host-1", got.Name)
}

func TestResolve_NetBoxSourceAppliesNameField(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "host-renamed"})
	}))
	defer srv.Close()

	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{NetBoxAPIURL: srv.URL, NetBoxAPIToken: "tok", Environment: "development"})

	result, err := d.Resolve(context.Background(), ci.ID, "service:alice", ResolveRequest{Source: "netbox", Fields: []string{"name"}})
	require.NoError(t, err)
	require.Contains(t, result.Applied, "name")
	assert.Equal(t, "host-1", result.Applied["name"].Before)
	assert.Equal(t, "host-renamed", result.Applied["name"].After)

	got, err := st.GetCI(context.Background(), ci.ID)
	require.NoError(t, err)
	assert.Equal(t, "host-renamed", got.Name)
	assert.Equal(t, "netbox", got.Source)
}

func TestResolve_RejectsUnresolvableSourceStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{})

	_, err := d.Resolve(context.Background(), ci.ID, "service:alice", ResolveRequest{Source: "netbox", Fields: []string{"name"}})
	assert.Error(t, err)
}

func TestResolve_RequiresAtLeastOneField(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := storetest.New()
	ci := seedCI(t, st, now)
	d := New(st, clock.NewFixed(now), Config{})

	_, err := d.Resolve(context.Background(), ci.ID, "service:alice", ResolveRequest{Source: "cmdb", Fields: []string{""}})
	assert.Error(t, err)
}
