// Package metric provides distance functions for float32 vectors.
package metric

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when the two vectors differ in length.
var ErrDimensionMismatch = errors.New("vector sizes do not match")

func dot(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		sum += v1[i] * v2[i]
	}
	return sum
}

// Magnitude calculates the magnitude (length) of a float32 slice.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(dot(v, v))))
}

// SquaredL2 calculates the squared L2 distance between two float32 slices.
func SquaredL2(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}

	var sum float32
	for i := range v1 {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return sum, nil
}

// L2 calculates the Euclidean distance between two float32 slices.
func L2(v1, v2 []float32) (float32, error) {
	sq, err := SquaredL2(v1, v2)
	if err != nil {
		return 0, err
	}
	return float32(math.Sqrt(float64(sq))), nil
}

// CosineDistance calculates 1 - cosine similarity between two float32
// slices. Zero-magnitude vectors yield the maximal distance 1.
func CosineDistance(v1, v2 []float32) (float32, error) {
	if len(v1) != len(v2) {
		return 0, ErrDimensionMismatch
	}

	magA := Magnitude(v1)
	magB := Magnitude(v2)
	if magA == 0 || magB == 0 {
		return 1, nil
	}
	return 1 - dot(v1, v2)/(magA*magB), nil
}
