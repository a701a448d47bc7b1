package corpus

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
)

// NormalizeVector zero-pads v to dim. This is the single place short model
// outputs are widened, so every stored vector shares one similarity kernel.
func NormalizeVector(v []float32, dim int) ([]float32, error) {
	if len(v) > dim {
		return nil, fmt.Errorf("%w: vector has %d dims, max %d", corpuserr.ErrValidation, len(v), dim)
	}
	out := make([]float32, dim)
	copy(out, v)
	return out, nil
}

// VectorToBlob encodes a vector as little-endian float32 bytes.
func VectorToBlob(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// BlobToVector decodes little-endian float32 bytes.
func BlobToVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%w: vector blob length %d not a multiple of 4", corpuserr.ErrIntegrity, len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// CosineSimilarity computes the cosine of the angle between two equal-width
// vectors. Zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
