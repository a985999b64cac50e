package vector

import "github.com/hyperjump/personsearch/pkg/utils"

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Normalized returns a unit-norm copy of x. A zero vector is copied unchanged.
func Normalized(x []float32) []float32 {
	out := make([]float32, len(x))
	copy(out, x)
	n := utils.Norm(x)
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / n)
	}
	return out
}
