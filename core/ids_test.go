package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionIDDeterministic(t *testing.T) {
	a := ExecutionID("job-1", "step-1")
	b := ExecutionID("job-1", "step-1")
	assert.Equal(t, a, b)
}

func TestExecutionIDDistinctPerStep(t *testing.T) {
	a := ExecutionID("job-1", "step-1")
	b := ExecutionID("job-1", "step-2")
	assert.NotEqual(t, a, b)
}

func TestCanonicalJSONStableKeyOrder(t *testing.T) {
	a, err := CanonicalJSON(map[string]interface{}{"b": 1, "a": 2})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]interface{}{"a": 2, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestHashEntryChains(t *testing.T) {
	h1, err := HashEntry("", map[string]interface{}{"seq": 1})
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	h2, err := HashEntry(h1, map[string]interface{}{"seq": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	h2Again, err := HashEntry(h1, map[string]interface{}{"seq": 2})
	require.NoError(t, err)
	assert.Equal(t, h2, h2Again)
}

func TestNewNonceIsHexAndUnique(t *testing.T) {
	a, err := NewNonce()
	require.NoError(t, err)
	b, err := NewNonce()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
