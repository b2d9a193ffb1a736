package transfer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"github.com/DaveForstot-MathWorks/nnv/set"
)

func satlin(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Min(1, math.Max(0, v))
	}
	return y
}

func TestSatLinReachExactThreeWay(t *testing.T) {
	sv := lp.Simplex{}
	// One neuron spanning both breakpoints splits into exactly three
	// regions.
	in := boxStar(t, []float64{-0.5}, []float64{1.5})

	out, err := SatLin{}.Reach(sv, in)
	require.NoError(t, err)
	require.Len(t, out, 3)

	rng := rand.New(rand.NewSource(13))
	pts, err := in.Sample(sv, 40, rng)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	for _, x := range pts {
		assert.True(t, unionContains(t, sv, out, satlin(x)), "satlin(%v) escaped the exact union", x)
	}
	for _, s := range out {
		lo, hi, st, err := s.Bounds(sv, 0)
		require.NoError(t, err)
		require.Equal(t, lp.StatusOptimal, st)
		assert.GreaterOrEqual(t, lo, -1e-9)
		assert.LessOrEqual(t, hi, 1+1e-9)
	}
}

func TestSatLinReachExactPointwise(t *testing.T) {
	sv := lp.Simplex{}
	in := boxStar(t, []float64{-0.5, -0.5}, []float64{1.5, 1.5})

	out, err := SatLin{}.Reach(sv, in)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	// Same check as the ReLU pointwise test: a predicate vector of a
	// leaf must map to exactly the saturated image of its pre-activation.
	rng := rand.New(rand.NewSource(67))
	for li, leaf := range out {
		require.Equal(t, in.NumVars(), leaf.NumVars())
		pts := predicateSamples(t, sv, leaf, 10, rng)
		require.NotEmpty(t, pts, "leaf %d", li)
		for _, a := range pts {
			want := satlin(pointOf(in, a))
			got := pointOf(leaf, a)
			for i := range want {
				assert.InDelta(t, want[i], got[i], 1e-9, "leaf %d coord %d", li, i)
			}
		}
	}
}

func TestSatLinReachSkipsResolvedNeurons(t *testing.T) {
	sv := lp.Simplex{}
	// Coordinates pinned to the lower saturation, linear, and upper
	// saturation regions respectively.
	in := boxStar(t, []float64{-3, 0.2, 2}, []float64{-1, 0.8, 4})

	out, err := SatLin{}.Reach(sv, in)
	require.NoError(t, err)
	require.Len(t, out, 1)

	lo, hi, st, err := out[0].Bounds(sv, 0)
	require.NoError(t, err)
	require.Equal(t, lp.StatusOptimal, st)
	assert.InDelta(t, 0, lo, 1e-9)
	assert.InDelta(t, 0, hi, 1e-9)

	lo, hi, st, err = out[0].Bounds(sv, 2)
	require.NoError(t, err)
	require.Equal(t, lp.StatusOptimal, st)
	assert.InDelta(t, 1, lo, 1e-9)
	assert.InDelta(t, 1, hi, 1e-9)
}

func TestSatLinReachApproxSound(t *testing.T) {
	sv := lp.Simplex{}
	cases := []struct {
		name   string
		lb, ub []float64
	}{
		{"straddle zero", []float64{-1}, []float64{0.5}},
		{"straddle one", []float64{0.25}, []float64{2}},
		{"straddle both", []float64{-0.5}, []float64{1.5}},
		{"mixed", []float64{-1, 0.5, -0.5}, []float64{0.5, 3, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := boxStar(t, tc.lb, tc.ub)
			approx, err := SatLin{}.ReachApprox(sv, in)
			require.NoError(t, err)
			require.NotNil(t, approx)

			rng := rand.New(rand.NewSource(17))
			pts, err := in.Sample(sv, 30, rng)
			require.NoError(t, err)
			require.NotEmpty(t, pts)
			for _, x := range pts {
				ok, err := approx.Contains(sv, satlin(x))
				require.NoError(t, err)
				assert.True(t, ok, "satlin(%v) escaped the relaxation", x)
			}
			for i := range tc.lb {
				lo, hi, st, err := approx.Bounds(sv, i)
				require.NoError(t, err)
				require.Equal(t, lp.StatusOptimal, st)
				assert.GreaterOrEqual(t, lo, -1e-9)
				assert.LessOrEqual(t, hi, 1+1e-9)
			}
		})
	}
}

func TestSatLinReachApproxEmptyInput(t *testing.T) {
	approx, err := SatLin{}.ReachApprox(lp.Simplex{}, emptyStar(t))
	require.NoError(t, err)
	assert.Nil(t, approx)
}

func TestSatLinReachApproxFastSound(t *testing.T) {
	sv := lp.Simplex{}
	in := boxStar(t, []float64{-0.5, 0.9}, []float64{1.5, 1.1})

	approx, err := SatLin{}.ReachApproxFast(in)
	require.NoError(t, err)
	require.NotNil(t, approx)

	rng := rand.New(rand.NewSource(19))
	pts, err := in.Sample(sv, 25, rng)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	for _, x := range pts {
		ok, err := approx.Contains(sv, satlin(x))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestSatLinReachZonoSound(t *testing.T) {
	in := boxStar(t, []float64{-0.5, 0.2}, []float64{1.5, 0.8})
	// Build the matching zonotope directly from the box.
	b, err := set.NewBox([]float64{-0.5, 0.2}, []float64{1.5, 0.8})
	require.NoError(t, err)
	z := b.ToZono()

	out, err := SatLin{}.ReachZono(z)
	require.NoError(t, err)

	sv := lp.Simplex{}
	rng := rand.New(rand.NewSource(23))
	pts, err := in.Sample(sv, 50, rng)
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	for _, x := range pts {
		y := satlin(x)
		for i := range y {
			lo, hi := out.Bounds(i)
			assert.LessOrEqual(t, lo, y[i]+1e-9)
			assert.GreaterOrEqual(t, hi, y[i]-1e-9)
		}
	}
}
