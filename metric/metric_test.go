package metric

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2(t *testing.T) {
	d, err := L2([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, 1e-6)

	d, err = L2([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = L2([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestSquaredL2(t *testing.T) {
	d, err := SquaredL2([]float32{1, 1}, []float32{4, 5})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, d, 1e-6)
}

func TestCosineDistance(t *testing.T) {
	d, err := CosineDistance([]float32{1, 0}, []float32{2, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, d, 1e-6)

	d, err = CosineDistance([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-6)

	// Zero magnitude yields the maximal distance.
	d, err = CosineDistance([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, d, 1e-6)

	_, err = CosineDistance([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMagnitude(t *testing.T) {
	assert.InDelta(t, 5.0, Magnitude([]float32{3, 4}), 1e-6)
	assert.Zero(t, Magnitude(nil))
}
