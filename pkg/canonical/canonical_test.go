package canonical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/canonical"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := canonical.Marshal(map[string]any{"b": 2, "a": 1, "c": []any{"z", "y"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2,"c":["z","y"]}`, string(out))
}

func TestMarshalIsOrderInsensitive(t *testing.T) {
	a, err := canonical.Hash(map[string]any{"x": 1, "y": "two"})
	require.NoError(t, err)
	b, err := canonical.Hash(map[string]any{"y": "two", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashIsContentBound(t *testing.T) {
	a, err := canonical.Hash(map[string]any{"x": 1})
	require.NoError(t, err)
	b, err := canonical.Hash(map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashBytes(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		canonical.HashBytes(nil))
}
