package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedcmdb/cmdb-core/internal/canonicaljson"
	"github.com/unifiedcmdb/cmdb-core/internal/clock"
	"github.com/unifiedcmdb/cmdb-core/internal/domain"
	"github.com/unifiedcmdb/cmdb-core/internal/store/storetest"
)

func newTestService(t *testing.T, now time.Time, cfg Config) (*Service, *storetest.Store, *clock.Fixed) {
	t.Helper()
	st := storetest.New()
	clk := clock.NewFixed(now)
	return New(st, clk, cfg), st, clk
}

func TestNormalizeRequestPath_RejectsNonRootedOrApprovalsPath(t *testing.T) {
	_, err := NormalizeRequestPath("cis/1", "")
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = NormalizeRequestPath("/approvals/1/approve", "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestNormalizeRequestPath_StitchesQueryBackOn(t *testing.T) {
	path, err := NormalizeRequestPath("/cis", "status=active")
	require.NoError(t, err)
	assert.Equal(t, "/cis?status=active", path)

	path, err = NormalizeRequestPath("/cis", "?status=active")
	require.NoError(t, err)
	assert.Equal(t, "/cis?status=active", path)

	path, err = NormalizeRequestPath("/cis", "")
	require.NoError(t, err)
	assert.Equal(t, "/cis", path)
}

func TestCreate_RecordsPendingApprovalWithBoundedTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, st, _ := newTestService(t, now, Config{})

	reason := "quarterly cleanup"
	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{
		Method: "patch", Path: "/cis/ci-1", Payload: map[string]any{"name": "host-1"},
		Reason: &reason, TTLMinutes: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, approval.Status)
	assert.Equal(t, "PATCH", approval.Method)
	assert.Equal(t, "service:alice", approval.RequestedBy)
	assert.Equal(t, now.Add(1440*time.Minute), approval.ExpiresAt)
	assert.Equal(t, canonicaljson.HashValue(map[string]any{"name": "host-1"}), approval.PayloadHash)

	got, err := st.GetApproval(context.Background(), approval.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.ID, got.ID)
}

func TestDecide_RejectsSelfApproval(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{})

	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{Method: "POST", Path: "/cis"})
	require.NoError(t, err)

	_, err = s.Decide(context.Background(), approval.ID, "service:alice", true, nil)
	assert.ErrorIs(t, err, ErrSelfApproval)
}

func TestDecide_ApprovesWhenDifferentPrincipal(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{})

	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{Method: "POST", Path: "/cis"})
	require.NoError(t, err)

	note := "looks good"
	decided, err := s.Decide(context.Background(), approval.ID, "service:bob", true, &note)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, decided.Status)
	require.NotNil(t, decided.DecidedBy)
	assert.Equal(t, "service:bob", *decided.DecidedBy)
}

func TestDecide_RejectsExpiredApproval(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, clk := newTestService(t, now, Config{DefaultTTL: time.Minute})

	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{Method: "POST", Path: "/cis"})
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = s.Decide(context.Background(), approval.ID, "service:bob", true, nil)
	assert.ErrorIs(t, err, ErrApprovalExpired)
}

func TestCheckAndConsume_SucceedsAndTransitionsToConsumed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{})

	body := []byte(`{"name":"host-1"}`)
	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{
		Method: "PATCH", Path: "/cis/ci-1", Payload: map[string]any{"name": "host-1"},
	})
	require.NoError(t, err)
	_, err = s.Decide(context.Background(), approval.ID, "service:bob", true, nil)
	require.NoError(t, err)

	consumed, err := s.CheckAndConsume(context.Background(), GateRequest{
		ApprovalID: approval.ID, Method: "PATCH", Path: "/cis/ci-1",
		Body: body, ContentType: "application/json", CurrentPrincipal: "service:alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalConsumed, consumed.Status)
}

func TestCheckAndConsume_NotFound(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{})

	_, err := s.CheckAndConsume(context.Background(), GateRequest{ApprovalID: "missing"})
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestCheckAndConsume_RejectsWhenNotApproved(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{})

	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{Method: "POST", Path: "/cis"})
	require.NoError(t, err)

	_, err = s.CheckAndConsume(context.Background(), GateRequest{ApprovalID: approval.ID, Method: "POST", Path: "/cis"})
	assert.ErrorIs(t, err, ErrApprovalNotApproved)
}

func TestCheckAndConsume_RejectsMethodMismatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{})

	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{Method: "POST", Path: "/cis"})
	require.NoError(t, err)
	_, err = s.Decide(context.Background(), approval.ID, "service:bob", true, nil)
	require.NoError(t, err)

	_, err = s.CheckAndConsume(context.Background(), GateRequest{ApprovalID: approval.ID, Method: "DELETE", Path: "/cis"})
	assert.ErrorIs(t, err, ErrMethodMismatch)
}

func TestCheckAndConsume_RejectsPayloadMismatch(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{})

	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{
		Method: "PATCH", Path: "/cis/ci-1", Payload: map[string]any{"name": "host-1"},
	})
	require.NoError(t, err)
	_, err = s.Decide(context.Background(), approval.ID, "service:bob", true, nil)
	require.NoError(t, err)

	_, err = s.CheckAndConsume(context.Background(), GateRequest{
		ApprovalID: approval.ID, Method: "PATCH", Path: "/cis/ci-1",
		Body: []byte(`{"name":"host-2"}`), ContentType: "application/json",
	})
	assert.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestCheckAndConsume_RejectsWhenBindRequesterEnabledAndPrincipalDiffers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _, _ := newTestService(t, now, Config{BindRequester: true})

	approval, err := s.Create(context.Background(), "service:alice", CreateRequest{Method: "POST", Path: "/cis"})
	require.NoError(t, err)
	_, err = s.Decide(context.Background(), approval.ID, "service:bob", true, nil)
	require.NoError(t, err)

	_, err = s.CheckAndConsume(context.Background(), GateRequest{
		ApprovalID: approval.ID, Method: "POST", Path: "/cis", CurrentPrincipal: "service:bob",
	})
	assert.ErrorIs(t, err, ErrSelfApproval)
}

func TestExpireDue_RejectsPendingPastExpiryAndEmitsAudit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, st, clk := newTestService(t, now, Config{DefaultTTL: time.Minute})

	_, err := s.Create(context.Background(), "service:alice", CreateRequest{Method: "POST", Path: "/cis"})
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	count, err := s.ExpireDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	events, err := st.ExportAudit(context.Background(), 10)
	require.NoError(t, err)
	found := false
	for _, e := range events {
		if e.EventType == domain.EventApprovalExpired {
			found = true
		}
	}
	assert.True(t, found)
}
