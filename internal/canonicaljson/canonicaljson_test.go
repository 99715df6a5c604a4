package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_RoundTripStable(t *testing.T) {
	raw := []byte(`{"b":2,"a":1,"nested":{"z":true,"y":null}}`)
	first := Hash(raw, "application/json")

	canonical, err := Marshal(map[string]any{
		"b":      float64(2),
		"a":      float64(1),
		"nested": map[string]any{"z": true, "y": nil},
	})
	require.NoError(t, err)

	second := Hash(canonical, "application/json")
	assert.Equal(t, first, second, "re-hashing an already-canonical payload must reproduce the same digest")
}

func TestHash_KeyOrderIndependent(t *testing.T) {
	a := Hash([]byte(`{"a":1,"b":2}`), "application/json; charset=utf-8")
	b := Hash([]byte(`{"b":2,"a":1}`), "application/json")
	assert.Equal(t, a, b)
}

func TestHash_NonJSONContentTypeHashesRawBytes(t *testing.T) {
	raw := []byte("hello world")
	got := Hash(raw, "text/plain")
	want := hashBytes(raw)
	assert.Equal(t, want, got)
}

func TestHash_EmptyBodyHashesEmptyString(t *testing.T) {
	got := Hash(nil, "application/json")
	want := hashBytes([]byte(""))
	assert.Equal(t, want, got)
}

func TestHash_MalformedJSONFallsBackToRawBytes(t *testing.T) {
	raw := []byte(`{not valid json`)
	got := Hash(raw, "application/json")
	want := hashBytes(raw)
	assert.Equal(t, want, got)
}
