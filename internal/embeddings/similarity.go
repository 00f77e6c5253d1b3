package embeddings

import (
	"math"

	"github.com/pkg/errors"
)

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Errorf("vectors must have same length: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, errors.New("vectors cannot be empty")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, errors.New("vector norm cannot be zero")
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// floating point drift
	return math.Max(-1, math.Min(1, sim)), nil
}

// Validate rejects empty vectors and vectors holding NaN or Inf.
func Validate(vec []float64) error {
	if len(vec) == 0 {
		return errors.New("embedding vector is empty")
	}
	for i, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("embedding contains invalid value at index %d: %v", i, v)
		}
	}
	return nil
}
