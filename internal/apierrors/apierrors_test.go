package apierrors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode_KnownCodes(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, ValidationError("bad").StatusCode())
	assert.Equal(t, http.StatusTooManyRequests, RateLimited().StatusCode())
	assert.Equal(t, http.StatusNotFound, NotFound("ci").StatusCode())
	assert.Equal(t, http.StatusConflict, Conflict("already decided").StatusCode())
	assert.Equal(t, http.StatusGatewayTimeout, RequestTimeout().StatusCode())
}

func TestWrite_SerializesEnvelopeShape(t *testing.T) {
	rec := httptest.NewRecorder()
	err := RateLimited().WithRequestID("req-123")

	Write(rec, err)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"detail":"rate limit exceeded, retry later","error":{"code":"RATE_LIMITED","message":"rate limit exceeded, retry later","request_id":"req-123"}}`, rec.Body.String())
}

func TestNotFound_MessageNamesResource(t *testing.T) {
	err := NotFound("configuration item")
	assert.Equal(t, "configuration item not found", err.Error())
}
