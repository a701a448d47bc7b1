package corpus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

func TestNormalizeVectorZeroPads(t *testing.T) {
	v, err := corpus.NormalizeVector([]float32{1, 2}, 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 0, 0}, v)
}

func TestNormalizeVectorRejectsOversized(t *testing.T) {
	_, err := corpus.NormalizeVector([]float32{1, 2, 3}, 2)
	assert.ErrorIs(t, err, corpuserr.ErrValidation)
}

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3}
	out, err := corpus.BlobToVector(corpus.VectorToBlob(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	assert.InDelta(t, 1.0, corpus.CosineSimilarity(a, a), 1e-9)
	assert.InDelta(t, 0.0, corpus.CosineSimilarity(a, []float32{0, 1, 0}), 1e-9)
}
