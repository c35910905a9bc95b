// Package vector provides the CPU reference math for vecrank.
//
// Every similarity score produced anywhere in the module is checked against
// the functions in this package. The accelerator backends in pkg/gpu are
// allowed to differ from these results in the low-order bits (different
// reduction order) but never by more than a small tolerance.
//
// Main Functions:
//   - Dot: dot product of two equal-length vectors
//   - Norm: Euclidean length (L2 norm)
//   - CosineSimilarity: the reference similarity used by the CPU backend
//   - Normalize: returns a unit-length copy
//
// Summation is single-pass, in index order, with float32 accumulation. That
// order defines the reference result bit for bit; do not replace the loops
// with compensated or parallel sums.
//
// Example:
//
//	a := vector.Vector{1, 2, 3}
//	b := vector.Vector{4, 5, 6}
//	sim, err := vector.CosineSimilarity(a, b) // 0.97463185
package vector

import (
	"errors"
	"fmt"
	"math"
)

// Vector is an ordered, fixed-length sequence of float32 values.
type Vector []float32

// ErrDimensionMismatch is returned when two vectors of different length are
// compared.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Dot returns the dot product of a and b.
func Dot(a, b Vector) (float32, error) {
	if len(a) != len(b) {
		return 0, mismatch(len(a), len(b))
	}

	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum, nil
}

// Norm returns the Euclidean length of v.
func Norm(v Vector) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return sqrt32(sum)
}

// CosineSimilarity returns dot(a, b) / (|a| * |b|).
//
// A zero-magnitude input produces NaN (0/0). Two empty vectors also produce
// NaN. Neither case is treated as an error so callers can filter NaN scores
// themselves.
//
// Example:
//
//	vector.CosineSimilarity(vector.Vector{1, 0}, vector.Vector{0, 1})       // 0
//	vector.CosineSimilarity(vector.Vector{0, 0, 0}, vector.Vector{1, 2, 3}) // NaN
func CosineSimilarity(a, b Vector) (float32, error) {
	if len(a) != len(b) {
		return 0, mismatch(len(a), len(b))
	}

	var dot, magA, magB float32
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	return Combine(dot, magA, magB), nil
}

// Combine finishes a cosine similarity from its three partial sums:
// the dot product and the two squared magnitudes.
//
// The accelerator backends reduce on the device and call Combine on the
// host so the final division matches the CPU formula exactly.
func Combine(dot, sumSqA, sumSqB float32) float32 {
	return dot / (sqrt32(sumSqA) * sqrt32(sumSqB))
}

// Normalize returns a unit-length copy of v. The zero vector is returned
// as a copy, unchanged.
func Normalize(v Vector) Vector {
	out := make(Vector, len(v))
	n := Norm(v)
	if n == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

// Scale returns k*v as a new vector.
func Scale(v Vector, k float32) Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = x * k
	}
	return out
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

func mismatch(a, b int) error {
	return fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, a, b)
}
