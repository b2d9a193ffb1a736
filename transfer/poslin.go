package transfer

import (
	"bytes"
	"fmt"
	"runtime"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"github.com/DaveForstot-MathWorks/nnv/set"
)

// PosLin is the ReLU transfer function y = max(0, x).
type PosLin struct {
	// Workers caps the parallelism of exact case-splitting; zero means
	// GOMAXPROCS.
	Workers int
}

func (PosLin) Name() string { return "poslin" }

// branch is one star of the running exact decomposition together with its
// activation sign pattern so far ('1' active, '0' inactive per neuron).
type branch struct {
	s    *set.Star
	code []byte
}

func (p PosLin) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Reach computes the exact ReLU image as a union of stars, case-splitting
// neuron by neuron. Neurons provably on one side of zero are never split;
// infeasible children are pruned. Branches never share mutable state, so
// each step processes its stars in parallel.
func (p PosLin) Reach(sv lp.Solver, s *set.Star) ([]*set.Star, error) {
	cur := []branch{{s: s}}
	for i := 0; i < s.Dim(); i++ {
		parts := make([][]branch, len(cur))
		var g errgroup.Group
		g.SetLimit(p.workers())
		for bi := range cur {
			bi := bi
			g.Go(func() error {
				out, err := stepReLU(sv, cur[bi], i)
				if err != nil {
					return err
				}
				parts[bi] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("poslin exact, neuron %d: %w", i, err)
		}
		var next []branch
		for _, part := range parts {
			next = append(next, part...)
		}
		cur = next
	}

	// Leaves are keyed by their sign pattern, like polytope activation
	// codes, and emitted in canonical code order.
	seen := mapset.NewThreadUnsafeSet[string]()
	var leaves []branch
	for _, b := range cur {
		if seen.Add(string(b.code)) {
			leaves = append(leaves, b)
		}
	}
	slices.SortFunc(leaves, func(a, b branch) int { return bytes.Compare(a.code, b.code) })
	out := make([]*set.Star, len(leaves))
	for i, b := range leaves {
		out[i] = b.s
	}
	return out, nil
}

// stepReLU resolves neuron i of one branch: pass through, force to zero,
// or split on the sign of the pre-activation.
func stepReLU(sv lp.Solver, b branch, i int) ([]branch, error) {
	lo, hi, st, err := b.s.Bounds(sv, i)
	if err != nil {
		return nil, err
	}
	if st == lp.StatusInfeasible {
		return nil, nil // empty region contributes nothing to the union
	}
	switch {
	case lo >= 0:
		return []branch{{s: b.s, code: appendCode(b.code, '1')}}, nil
	case hi <= 0:
		return []branch{{s: b.s.ConstCoord(i, 0), code: appendCode(b.code, '0')}}, nil
	}

	h := make([]float64, b.s.Dim())
	h[i] = -1 // -x_i <= 0, the active side
	pos, err := b.s.IntersectHalfspace(h, 0)
	if err != nil {
		return nil, err
	}
	h[i] = 1 // x_i <= 0, the inactive side
	neg, err := b.s.IntersectHalfspace(h, 0)
	if err != nil {
		return nil, err
	}
	return []branch{
		{s: pos, code: appendCode(b.code, '1')},
		{s: neg.ConstCoord(i, 0), code: appendCode(b.code, '0')},
	}, nil
}

func appendCode(code []byte, c byte) []byte {
	out := make([]byte, len(code)+1)
	copy(out, code)
	out[len(code)] = c
	return out
}

// ReachApprox computes a single over-approximating star using LP-tight
// neuron bounds and the triangle relaxation for every ambiguous neuron.
func (p PosLin) ReachApprox(sv lp.Solver, s *set.Star) (*set.Star, error) {
	lo, hi, empty, err := starBounds(sv, s)
	if err != nil {
		return nil, fmt.Errorf("poslin approx: %w", err)
	}
	if empty {
		return nil, nil
	}
	return reluRelax(s, lo, hi)
}

// ReachApproxFast is ReachApprox with interval bound estimates instead of
// LP queries.
func (p PosLin) ReachApproxFast(s *set.Star) (*set.Star, error) {
	lo, hi, err := starBoundsEstimate(s)
	if err != nil {
		return nil, fmt.Errorf("poslin fast approx: %w", err)
	}
	return reluRelax(s, lo, hi)
}

// reluRelax zeroes provably-inactive neurons and replaces each ambiguous
// neuron by a new variable y bounded by the minimal-area triangle
// y >= 0, y >= x, y <= ub*(x-lb)/(ub-lb).
func reluRelax(s *set.Star, lo, hi []float64) (*set.Star, error) {
	m := 0
	for i := range lo {
		if lo[i] < 0 && hi[i] > 0 {
			m++
		}
	}
	b := newRelax(s, m)
	for i := range lo {
		switch {
		case lo[i] >= 0:
			// identity, already kept
		case hi[i] <= 0:
			b.setConst(i, 0)
		default:
			j := b.newVar(i, 0, hi[i])
			lam := hi[i] / (hi[i] - lo[i])
			b.addRow(i, 0, j, -1, 0)                // y >= 0
			b.addRow(i, 1, j, -1, 0)                // y >= x
			b.addRow(i, -lam, j, 1, -lam*lo[i])     // y <= lam*(x - lb)
		}
	}
	return b.build()
}

// ReachZono is the zonotope relaxation: each ambiguous neuron's row is
// scaled by lam = ub/(ub-lb) and one generator of radius -lam*lb/2 is
// added. No constraint rows, only interval reasoning.
func (p PosLin) ReachZono(z *set.Zono) (*set.Zono, error) {
	n := z.Dim()
	k := z.NumGens()
	type amb struct {
		i       int
		lam, mu float64
	}
	var ambs []amb
	for i := 0; i < n; i++ {
		lo, hi := z.Bounds(i)
		if lo < 0 && hi > 0 {
			lam := hi / (hi - lo)
			ambs = append(ambs, amb{i: i, lam: lam, mu: -lam * lo / 2})
		}
	}
	center := make([]float64, n)
	v := newDense(n, k+len(ambs))
	for i := 0; i < n; i++ {
		lo, hi := z.Bounds(i)
		switch {
		case hi <= 0:
			// inactive: stays zero
		case lo >= 0:
			center[i] = z.Center(i)
			for j := 0; j < k; j++ {
				v.Set(i, j, z.Generators().At(i, j))
			}
		}
	}
	for t, a := range ambs {
		center[a.i] = a.lam*z.Center(a.i) + a.mu
		for j := 0; j < k; j++ {
			v.Set(a.i, j, a.lam*z.Generators().At(a.i, j))
		}
		v.Set(a.i, k+t, a.mu)
	}
	return set.NewZono(center, v)
}
