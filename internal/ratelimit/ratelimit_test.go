package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToMaxThenRejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(2, time.Minute).WithClock(func() time.Time { return now })

	assert.True(t, l.Allow("k"))
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestLimiter_PrunesExpiredEntriesOutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(1, time.Minute).WithClock(func() time.Time { return now })

	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))

	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("k"))
}

func TestLimiter_DistinctKeysHaveIndependentBudgets(t *testing.T) {
	l := New(1, time.Minute)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.False(t, l.Allow("a"))
}

func TestNew_ClampsMaxRequestsBelowOneToOne(t *testing.T) {
	l := New(0, time.Minute)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
}

func TestGlobalRateLimitKey_PrefersTokenFingerprintOverIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cis", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	req.RemoteAddr = "10.0.0.5:1234"

	key := GlobalRateLimitKey(req)
	assert.Contains(t, key, "token:")
	assert.Contains(t, key, "/cis")
	assert.NotContains(t, key, "10.0.0.5")
}

func TestGlobalRateLimitKey_FallsBackToClientIPWithoutBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cis", nil)
	req.RemoteAddr = "10.0.0.5:1234"

	key := GlobalRateLimitKey(req)
	assert.Equal(t, "ip:10.0.0.5:/cis", key)
}

func TestMutatingRateLimitKey_CombinesPrincipalAndPath(t *testing.T) {
	assert.Equal(t, "service:abc123:/cis/123", MutatingRateLimitKey("service:abc123", "/cis/123"))
}

func TestMutatingPathLimits_ResolvesLongestMatchingPrefix(t *testing.T) {
	limits := MutatingPathLimits{
		Default: 10, Ingest: 60, Integrations: 20, Relationships: 15,
		CIs: 30, Governance: 5, Lifecycle: 5, Approvals: 8, ApproverApprovals: 20,
	}

	assert.Equal(t, 60, limits.PathLimit("/ingest/devices", false))
	assert.Equal(t, 30, limits.PathLimit("/cis/abc", false))
	assert.Equal(t, 8, limits.PathLimit("/approvals", false))
	assert.Equal(t, 20, limits.PathLimit("/approvals", true))
	assert.Equal(t, 10, limits.PathLimit("/unknown", false))
}

func TestMutatingLimiterSet_EnforcesIndependentBudgetsPerPrefix(t *testing.T) {
	set := NewMutatingLimiterSet(MutatingPathLimits{Default: 10, Governance: 1, CIs: 10})

	assert.True(t, set.Allow("service:abc", "/governance/collisions/1/resolve", false))
	assert.False(t, set.Allow("service:abc", "/governance/collisions/1/resolve", false))
	assert.True(t, set.Allow("service:abc", "/cis/1", false))
}

func TestMutatingLimiterSet_ApproverGetsSeparateApprovalsLimit(t *testing.T) {
	set := NewMutatingLimiterSet(MutatingPathLimits{Default: 10, Approvals: 1, ApproverApprovals: 2})

	assert.True(t, set.Allow("service:maker", "/approvals", false))
	assert.False(t, set.Allow("service:maker", "/approvals", false))

	assert.True(t, set.Allow("service:checker", "/approvals/1/approve", true))
	assert.True(t, set.Allow("service:checker", "/approvals/1/approve", true))
}
