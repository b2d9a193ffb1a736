package transfer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"github.com/DaveForstot-MathWorks/nnv/set"
)

func boxStar(t *testing.T, lb, ub []float64) *set.Star {
	t.Helper()
	b, err := set.NewBox(lb, ub)
	require.NoError(t, err)
	return b.ToStar()
}

func emptyStar(t *testing.T) *set.Star {
	t.Helper()
	s := boxStar(t, []float64{-1}, []float64{1})
	cut, err := s.IntersectHalfspace([]float64{1}, -2) // x <= -2, outside the box
	require.NoError(t, err)
	return cut
}

// unionContains reports whether any star of the union contains x.
func unionContains(t *testing.T, sv lp.Solver, union []*set.Star, x []float64) bool {
	t.Helper()
	for _, s := range union {
		ok, err := s.Contains(sv, x)
		require.NoError(t, err)
		if ok {
			return true
		}
	}
	return false
}

// predicateSamples draws predicate variable vectors satisfying the
// star's constraint system, via an identity star over the same system.
func predicateSamples(t *testing.T, sv lp.Solver, s *set.Star, n int, rng *rand.Rand) [][]float64 {
	t.Helper()
	k := s.NumVars()
	eye := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		eye.Set(i, i, 1)
	}
	id, err := set.NewStar(make([]float64, k), eye, s.Constraints())
	require.NoError(t, err)
	pts, err := id.Sample(sv, n, rng)
	require.NoError(t, err)
	return pts
}

// pointOf evaluates center + V*a for one predicate vector.
func pointOf(s *set.Star, a []float64) []float64 {
	x := make([]float64, s.Dim())
	for i := range x {
		x[i] = s.Center(i)
		for j, aj := range a {
			x[i] += s.GeneratorRow(i)[j] * aj
		}
	}
	return x
}

func relu(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Max(0, v)
	}
	return y
}

func TestPosLinReachExact(t *testing.T) {
	sv := lp.Simplex{}
	in := boxStar(t, []float64{-1, -1}, []float64{1, 1})

	out, err := PosLin{}.Reach(sv, in)
	require.NoError(t, err)
	// Both neurons straddle zero, so all four sign patterns survive.
	assert.Len(t, out, 4)

	rng := rand.New(rand.NewSource(11))
	pts, err := in.Sample(sv, 40, rng)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	for _, x := range pts {
		assert.True(t, unionContains(t, sv, out, relu(x)), "relu(%v) escaped the exact union", x)
	}

	// Nothing in the exact image leaves the ReLU range.
	for _, s := range out {
		for i := 0; i < s.Dim(); i++ {
			lo, hi, st, err := s.Bounds(sv, i)
			require.NoError(t, err)
			require.Equal(t, lp.StatusOptimal, st)
			assert.GreaterOrEqual(t, lo, -1e-9)
			assert.LessOrEqual(t, hi, 1+1e-9)
		}
	}
}

func TestPosLinReachExactPointwise(t *testing.T) {
	sv := lp.Simplex{}
	in := boxStar(t, []float64{-1, -0.5}, []float64{1, 1.5})

	out, err := PosLin{}.Reach(sv, in)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	// Leaves quantify over the input's predicate variables, so a shared
	// predicate vector maps to the pre-activation point through the
	// input basis and to the leaf's output point through the leaf basis.
	// Those must relate exactly by the activation: no false inclusion.
	rng := rand.New(rand.NewSource(61))
	for li, leaf := range out {
		require.Equal(t, in.NumVars(), leaf.NumVars())
		pts := predicateSamples(t, sv, leaf, 10, rng)
		require.NotEmpty(t, pts, "leaf %d", li)
		for _, a := range pts {
			want := relu(pointOf(in, a))
			got := pointOf(leaf, a)
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-9, "leaf %d coord %d", li, i)
			}
		}
	}
}

func TestPosLinReachSkipsResolvedNeurons(t *testing.T) {
	sv := lp.Simplex{}
	// First neuron provably active, second provably inactive: no split.
	in := boxStar(t, []float64{0.5, -2}, []float64{1.5, -1})

	out, err := PosLin{}.Reach(sv, in)
	require.NoError(t, err)
	require.Len(t, out, 1)

	lo, hi, st, err := out[0].Bounds(sv, 1)
	require.NoError(t, err)
	require.Equal(t, lp.StatusOptimal, st)
	assert.InDelta(t, 0, lo, 1e-9)
	assert.InDelta(t, 0, hi, 1e-9)
}

func TestPosLinReachEmptyInput(t *testing.T) {
	out, err := PosLin{}.Reach(lp.Simplex{}, emptyStar(t))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPosLinReachApproxSound(t *testing.T) {
	sv := lp.Simplex{}
	in := boxStar(t, []float64{-1, -0.5}, []float64{1, 2})

	approx, err := PosLin{}.ReachApprox(sv, in)
	require.NoError(t, err)
	require.NotNil(t, approx)

	rng := rand.New(rand.NewSource(3))
	pts, err := in.Sample(sv, 40, rng)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	for _, x := range pts {
		ok, err := approx.Contains(sv, relu(x))
		require.NoError(t, err)
		assert.True(t, ok, "relu(%v) escaped the relaxation", x)
	}

	// The triangle keeps the output inside [0, ub].
	lo, hi, st, err := approx.Bounds(sv, 0)
	require.NoError(t, err)
	require.Equal(t, lp.StatusOptimal, st)
	assert.GreaterOrEqual(t, lo, -1e-9)
	assert.LessOrEqual(t, hi, 1+1e-9)
}

func TestPosLinReachApproxEmptyInput(t *testing.T) {
	approx, err := PosLin{}.ReachApprox(lp.Simplex{}, emptyStar(t))
	require.NoError(t, err)
	assert.Nil(t, approx)
}

func TestPosLinReachApproxFastSound(t *testing.T) {
	sv := lp.Simplex{}
	in := boxStar(t, []float64{-2, 1}, []float64{1, 3})

	approx, err := PosLin{}.ReachApproxFast(in)
	require.NoError(t, err)
	require.NotNil(t, approx)

	rng := rand.New(rand.NewSource(5))
	pts, err := in.Sample(sv, 25, rng)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	for _, x := range pts {
		ok, err := approx.Contains(sv, relu(x))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestPosLinReachZonoSound(t *testing.T) {
	v := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	z, err := set.NewZono([]float64{0, 0.5}, v)
	require.NoError(t, err)

	out, err := PosLin{}.ReachZono(z)
	require.NoError(t, err)

	// Every relu image of a zonotope point stays inside the output's
	// interval hull.
	rng := rand.New(rand.NewSource(9))
	for trial := 0; trial < 50; trial++ {
		a := []float64{2*rng.Float64() - 1, 2*rng.Float64() - 1}
		x := []float64{a[0], 0.5 + a[1]}
		y := relu(x)
		for i := range y {
			lo, hi := out.Bounds(i)
			assert.LessOrEqual(t, lo, y[i]+1e-9)
			assert.GreaterOrEqual(t, hi, y[i]-1e-9)
		}
	}
}
