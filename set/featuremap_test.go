package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFeatureMapSize(t *testing.T) {
	cases := []struct {
		in, filter, stride, dilation int
		want                         int
	}{
		{5, 3, 1, 1, 3},
		{7, 3, 2, 1, 3},
		{7, 3, 1, 2, 3},
		{4, 4, 1, 1, 1},
		{10, 2, 3, 1, 3},
	}
	for _, c := range cases {
		got := FeatureMapSize(c.in, c.filter, c.stride, c.dilation)
		assert.Equal(t, c.want, got,
			"in=%d filter=%d stride=%d dilation=%d", c.in, c.filter, c.stride, c.dilation)
	}
}

func TestComputeFeatureMap(t *testing.T) {
	in := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	filter := mat.NewDense(2, 2, []float64{
		1, 0,
		0, 1,
	})

	out, err := ComputeFeatureMap(in, filter, 1, 1, 1, 1)
	require.NoError(t, err)
	want := mat.NewDense(2, 2, []float64{
		1 + 5, 2 + 6,
		4 + 8, 5 + 9,
	})
	assert.True(t, mat.EqualApprox(want, out, 1e-12))
}

func TestComputeFeatureMapStrideAndDilation(t *testing.T) {
	in := mat.NewDense(1, 7, []float64{1, 2, 3, 4, 5, 6, 7})
	filter := mat.NewDense(1, 3, []float64{1, 1, 1})

	out, err := ComputeFeatureMap(in, filter, 1, 2, 1, 1)
	require.NoError(t, err)
	oh, ow := out.Dims()
	require.Equal(t, 1, oh)
	require.Equal(t, 3, ow)
	assert.Equal(t, 1.0+2+3, out.At(0, 0))
	assert.Equal(t, 3.0+4+5, out.At(0, 1))
	assert.Equal(t, 5.0+6+7, out.At(0, 2))

	out, err = ComputeFeatureMap(in, filter, 1, 1, 1, 2)
	require.NoError(t, err)
	_, ow = out.Dims()
	require.Equal(t, 3, ow)
	assert.Equal(t, 1.0+3+5, out.At(0, 0))
	assert.Equal(t, 2.0+4+6, out.At(0, 1))
	assert.Equal(t, 3.0+5+7, out.At(0, 2))
}

func TestComputeFeatureMapRejectsBadShapes(t *testing.T) {
	in := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	filter := mat.NewDense(3, 3, nil)

	_, err := ComputeFeatureMap(in, filter, 1, 1, 1, 1)
	assert.ErrorIs(t, err, ErrShape)

	_, err = ComputeFeatureMap(in, mat.NewDense(1, 1, []float64{1}), 0, 1, 1, 1)
	assert.ErrorIs(t, err, ErrShape)
}
