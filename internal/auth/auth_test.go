package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_NotConfigured(t *testing.T) {
	a := New(Config{Mode: ModeStatic})
	_, err := a.Authenticate("anything")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAuthenticate_MissingToken(t *testing.T) {
	a := New(Config{Mode: ModeStatic, OperatorTokens: []string{"op-secret"}})
	_, err := a.Authenticate("  ")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestAuthenticate_OperatorToken(t *testing.T) {
	a := New(Config{Mode: ModeStatic, OperatorTokens: []string{"op-secret"}})
	p, err := a.Authenticate("op-secret")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, p.Role)
	assert.Contains(t, p.ID, "service:")
}

func TestAuthenticate_ApproverToken(t *testing.T) {
	a := New(Config{Mode: ModeStatic, ApproverTokens: []string{"appr-secret"}})
	p, err := a.Authenticate("appr-secret")
	require.NoError(t, err)
	assert.Equal(t, RoleApprover, p.Role)
}

func TestAuthenticate_ViewerToken(t *testing.T) {
	a := New(Config{Mode: ModeStatic, ViewerTokens: []string{"view-secret"}})
	p, err := a.Authenticate("view-secret")
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, p.Role)
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	a := New(Config{Mode: ModeStatic, OperatorTokens: []string{"op-secret"}})
	_, err := a.Authenticate("wrong")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_HybridFallsBackToOIDCUnavailable(t *testing.T) {
	a := New(Config{Mode: ModeHybrid, OperatorTokens: []string{"op-secret"}})
	_, err := a.Authenticate("some-oidc-jwt")
	assert.ErrorIs(t, err, ErrOIDCUnavailable)
}

func TestAuthenticate_SamePrincipalIDForSameToken(t *testing.T) {
	a := New(Config{Mode: ModeStatic, OperatorTokens: []string{"op-secret"}})
	p1, err := a.Authenticate("op-secret")
	require.NoError(t, err)
	p2, err := a.Authenticate("op-secret")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc123")
	assert.True(t, ok)
	assert.Equal(t, "abc123", token)

	_, ok = BearerToken("Basic abc123")
	assert.False(t, ok)

	_, ok = BearerToken("")
	assert.False(t, ok)
}

func TestAuthenticateRequest(t *testing.T) {
	a := New(Config{Mode: ModeStatic, OperatorTokens: []string{"op-secret"}})

	req := httptest.NewRequest(http.MethodGet, "/cis", nil)
	req.Header.Set("Authorization", "Bearer op-secret")

	p, err := a.AuthenticateRequest(req)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, p.Role)
}

func TestRole_HasAtLeast(t *testing.T) {
	assert.True(t, RoleOperator.HasAtLeast(RoleViewer))
	assert.True(t, RoleApprover.HasAtLeast(RoleViewer))
	assert.True(t, RoleViewer.HasAtLeast(RoleViewer))
	assert.False(t, RoleViewer.HasAtLeast(RoleOperator))
	assert.False(t, RoleOperator.HasAtLeast(RoleApprover))
}
