// Package vector provides the small numeric kernel shared by the embedding
// store, the gallery and the matcher: L2 normalization and dot products over
// float32 feature vectors.
package vector

import "math"

// NormEpsilon guards the normalization divisor so a zero vector maps to a zero
// vector instead of NaNs.
const NormEpsilon = 1e-8

// Normalize returns v scaled to unit L2 norm. The input is not modified.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	norm := Norm(v)
	scale := 1.0 / (norm + NormEpsilon)
	for i, x := range v {
		out[i] = float32(float64(x) * scale)
	}
	return out
}

// NormalizeInPlace scales v to unit L2 norm without allocating.
func NormalizeInPlace(v []float32) {
	norm := Norm(v)
	scale := 1.0 / (norm + NormEpsilon)
	for i, x := range v {
		v[i] = float32(float64(x) * scale)
	}
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot returns the dot product of a and b, accumulated in float64. For
// unit-normalized inputs this is the cosine similarity. Mismatched lengths
// return 0.
func Dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

// CosineSimilarity computes the cosine similarity between two raw vectors.
// Returns a value clamped to [-1, 1]; invalid or zero input yields -1.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return -1
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}

	return float32(similarity)
}
