package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/DaveForstot-MathWorks/nnv/lp"
)

func gridStar(t *testing.T, h, w int) *Star2D {
	t.Helper()
	n := h * w
	lb := make([]float64, n)
	ub := make([]float64, n)
	for i := range lb {
		lb[i] = float64(i) - 0.5
		ub[i] = float64(i) + 0.5
	}
	b, err := NewBox(lb, ub)
	require.NoError(t, err)
	s2d, err := b.ToStar().ToStar2D(h, w)
	require.NoError(t, err)
	return s2d
}

func TestStar2DRoundTrip(t *testing.T) {
	s2d := gridStar(t, 2, 3)
	flat := s2d.ToStar()

	require.Equal(t, 6, flat.Dim())
	require.Equal(t, s2d.NumVars(), flat.NumVars())
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			i := r*3 + c
			assert.Equal(t, s2d.Basis(0).At(r, c), flat.Center(i))
			for j := 0; j < flat.NumVars(); j++ {
				assert.Equal(t, s2d.Basis(j+1).At(r, c), flat.Generators().At(i, j))
			}
		}
	}

	back, err := flat.ToStar2D(2, 3)
	require.NoError(t, err)
	for b := 0; b <= s2d.NumVars(); b++ {
		assert.True(t, mat.EqualApprox(s2d.Basis(b), back.Basis(b), 0))
	}

	_, err = flat.ToStar2D(4, 2)
	assert.ErrorIs(t, err, ErrShape)
}

func TestStar2DSum(t *testing.T) {
	a := gridStar(t, 2, 2)
	b := gridStar(t, 2, 2)

	// Distinct system objects with equal coefficients must be accepted.
	sum, err := a.Sum(b)
	require.NoError(t, err)
	for i := 0; i <= a.NumVars(); i++ {
		want := mat.NewDense(2, 2, nil)
		want.Add(a.Basis(i), b.Basis(i))
		assert.True(t, mat.EqualApprox(want, sum.Basis(i), 0))
	}

	// Shape mismatch.
	_, err = a.Sum(gridStar(t, 1, 4))
	assert.ErrorIs(t, err, ErrDimension)
}

func TestStar2DSumConstraintMismatch(t *testing.T) {
	a := gridStar(t, 2, 2)

	// Perturb one rhs entry past the tolerance and rebuild the operand.
	sys := a.Constraints()
	d := append([]float64(nil), sys.D()...)
	d[0] += 10 * ConstraintTol
	c := mat.NewDense(sys.Rows(), sys.Vars(), nil)
	c.Copy(sys.C())
	other, err := lp.NewSystem(c, d)
	require.NoError(t, err)

	basis := make([]*mat.Dense, a.NumVars()+1)
	for i := range basis {
		m := mat.NewDense(2, 2, nil)
		m.Copy(a.Basis(i))
		basis[i] = m
	}
	b, err := NewStar2D(basis, other)
	require.NoError(t, err)

	_, err = a.Sum(b)
	assert.ErrorIs(t, err, ErrConstraintMismatch)

	// Within the tolerance the sum goes through.
	d2 := append([]float64(nil), sys.D()...)
	d2[0] += ConstraintTol / 2
	near, err := lp.NewSystem(c, d2)
	require.NoError(t, err)
	nb, err := NewStar2D(basis, near)
	require.NoError(t, err)
	_, err = a.Sum(nb)
	assert.NoError(t, err)
}

func TestStar2DAddConst(t *testing.T) {
	a := gridStar(t, 2, 2)
	shifted := a.AddConst(3)
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			assert.Equal(t, a.Basis(0).At(r, c)+3, shifted.Basis(0).At(r, c))
		}
	}
	for i := 1; i <= a.NumVars(); i++ {
		assert.True(t, mat.EqualApprox(a.Basis(i), shifted.Basis(i), 0))
	}
}

func TestStar2DPad(t *testing.T) {
	a := gridStar(t, 2, 2)

	p, err := a.Pad(1, 0, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Height())
	assert.Equal(t, 5, p.Width())
	assert.Equal(t, 0.0, p.Basis(0).At(0, 0))
	assert.Equal(t, a.Basis(0).At(0, 0), p.Basis(0).At(1, 2))
	assert.Equal(t, a.Basis(0).At(1, 1), p.Basis(0).At(2, 3))

	same, err := a.Pad(0, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, a.Height(), same.Height())
	assert.Equal(t, a.Width(), same.Width())
	assert.True(t, mat.EqualApprox(a.Basis(0), same.Basis(0), 0))

	_, err = a.Pad(-1, 0, 0, 0)
	assert.ErrorIs(t, err, ErrShape)
}

func TestStar2DFeatureMapMatchesDirect(t *testing.T) {
	a := gridStar(t, 3, 3)
	filter := mat.NewDense(2, 2, []float64{1, -1, 0.5, 2})

	fm, err := a.FeatureMap(filter, 1, 1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, fm.Height())
	assert.Equal(t, 2, fm.Width())

	for b := 0; b <= a.NumVars(); b++ {
		want, err := ComputeFeatureMap(a.Basis(b), filter, 1, 1, 1, 1)
		require.NoError(t, err)
		assert.True(t, mat.EqualApprox(want, fm.Basis(b), 1e-12))
	}
	// The predicate passes through unchanged.
	assert.True(t, fm.Constraints().EqualWithin(a.Constraints(), 0))
}
