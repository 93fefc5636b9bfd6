package reference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurotap/neurotap/pkg/neurotap/block"
)

func constRow(n int, v float64) []float64 {
	row := make([]float64, n)
	for i := range row {
		row[i] = v
	}
	return row
}

func TestInactiveCompositorPassesThrough(t *testing.T) {
	c := New(nil, nil, 4)
	assert.False(t, c.Active())

	channels := [][]float64{constRow(5, 1), constRow(5, 2)}
	props := block.DefaultProperties(2, 0, nil)

	outCh, outProps, err := c.Apply(channels, props)
	require.NoError(t, err)
	assert.Equal(t, channels, outCh)
	assert.Len(t, outProps, 2)
	assert.Equal(t, 1.0, outCh[0][3])
}

func TestSingleReferenceSubtraction(t *testing.T) {
	// Four EEG rows, one AUX row; row 2 is the reference.
	c := New([]int{2}, nil, 4)
	require.True(t, c.Active())

	channels := [][]float64{
		constRow(10, 10),
		constRow(10, 20),
		constRow(10, 3), // reference
		constRow(10, -7),
		constRow(10, 100), // AUX, untouched
	}
	props := block.DefaultProperties(4, 1, nil)

	outCh, outProps, err := c.Apply(channels, props)
	require.NoError(t, err)
	require.Len(t, outCh, 5)
	require.Len(t, outProps, 5)

	assert.Equal(t, 7.0, outCh[0][0])
	assert.Equal(t, 17.0, outCh[1][0])
	assert.Equal(t, 0.0, outCh[2][0], "reference row referenced to itself is zero")
	assert.Equal(t, -10.0, outCh[3][0])
	assert.Equal(t, 100.0, outCh[4][0], "AUX row must not be re-referenced")
}

func TestMultipleReferenceAveraging(t *testing.T) {
	c := New([]int{0, 3}, nil, 4)

	channels := [][]float64{
		constRow(8, 4),  // ref
		constRow(8, 10),
		constRow(8, 0),
		constRow(8, -2), // ref
	}
	props := block.DefaultProperties(4, 0, nil)

	outCh, _, err := c.Apply(channels, props)
	require.NoError(t, err)

	// mean = (4 + -2) / 2 = 1
	assert.Equal(t, 3.0, outCh[0][5])
	assert.Equal(t, 9.0, outCh[1][5])
	assert.Equal(t, -1.0, outCh[2][5])
	assert.Equal(t, -3.0, outCh[3][5])
}

func TestHiddenReferenceRowsAreRemoved(t *testing.T) {
	c := New([]int{1, 2}, []int{1, 2}, 4)

	channels := [][]float64{
		constRow(6, 1),
		constRow(6, 2), // ref, hidden
		constRow(6, 4), // ref, hidden
		constRow(6, 8),
		constRow(6, 50), // AUX
	}
	props := block.DefaultProperties(4, 1, nil)

	outCh, outProps, err := c.Apply(channels, props)
	require.NoError(t, err)
	require.Len(t, outCh, 3)
	require.Len(t, outProps, 3)

	// mean = 3; surviving rows keep their original order.
	assert.Equal(t, -2.0, outCh[0][0])
	assert.Equal(t, 5.0, outCh[1][0])
	assert.Equal(t, 50.0, outCh[2][0])
	assert.Equal(t, "Ch1", outProps[0].Name)
	assert.Equal(t, "Ch4", outProps[1].Name)
	assert.Equal(t, "Aux1", outProps[2].Name)
}

func TestReferenceRowOutOfRange(t *testing.T) {
	c := New([]int{5}, nil, 4)
	_, _, err := c.Apply([][]float64{constRow(3, 0)}, block.DefaultProperties(1, 0, nil))
	require.Error(t, err)
}

func TestSubtractionIsExactForRepresentableValues(t *testing.T) {
	c := New([]int{0}, nil, 1)
	channels := [][]float64{{0.5, 0.25, -0.125, math.MaxFloat32}}
	outCh, _, err := c.Apply(channels, block.DefaultProperties(1, 0, nil))
	require.NoError(t, err)
	for i, v := range outCh[0] {
		assert.Zero(t, v, "sample %d", i)
	}
}
