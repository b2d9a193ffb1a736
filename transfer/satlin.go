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

// SatLin is the saturating linear transfer function
// y = min(1, max(0, x)).
type SatLin struct {
	Workers int
}

func (SatLin) Name() string { return "satlin" }

func (p SatLin) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Reach computes the exact image, case-splitting each neuron into up to
// three regions: lower saturation (code '0'), linear (code '1'), upper
// saturation (code '2'). Neurons provably inside one region are never
// split.
func (p SatLin) Reach(sv lp.Solver, s *set.Star) ([]*set.Star, error) {
	cur := []branch{{s: s}}
	for i := 0; i < s.Dim(); i++ {
		parts := make([][]branch, len(cur))
		var g errgroup.Group
		g.SetLimit(p.workers())
		for bi := range cur {
			bi := bi
			g.Go(func() error {
				out, err := stepSatLin(sv, cur[bi], i)
				if err != nil {
					return err
				}
				parts[bi] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("satlin exact, neuron %d: %w", i, err)
		}
		var next []branch
		for _, part := range parts {
			next = append(next, part...)
		}
		cur = next
	}

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

func stepSatLin(sv lp.Solver, b branch, i int) ([]branch, error) {
	lo, hi, st, err := b.s.Bounds(sv, i)
	if err != nil {
		return nil, err
	}
	if st == lp.StatusInfeasible {
		return nil, nil
	}
	switch {
	case hi <= 0:
		return []branch{{s: b.s.ConstCoord(i, 0), code: appendCode(b.code, '0')}}, nil
	case lo >= 1:
		return []branch{{s: b.s.ConstCoord(i, 1), code: appendCode(b.code, '2')}}, nil
	case lo >= 0 && hi <= 1:
		return []branch{{s: b.s, code: appendCode(b.code, '1')}}, nil
	}

	n := b.s.Dim()
	var out []branch
	if lo < 0 {
		h := make([]float64, n)
		h[i] = 1 // x_i <= 0
		low, err := b.s.IntersectHalfspace(h, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, branch{s: low.ConstCoord(i, 0), code: appendCode(b.code, '0')})
	}
	mid := b.s
	if lo < 0 {
		h := make([]float64, n)
		h[i] = -1 // x_i >= 0
		if mid, err = mid.IntersectHalfspace(h, 0); err != nil {
			return nil, err
		}
	}
	if hi > 1 {
		h := make([]float64, n)
		h[i] = 1 // x_i <= 1
		if mid, err = mid.IntersectHalfspace(h, 1); err != nil {
			return nil, err
		}
	}
	out = append(out, branch{s: mid, code: appendCode(b.code, '1')})
	if hi > 1 {
		h := make([]float64, n)
		h[i] = -1 // x_i >= 1
		up, err := b.s.IntersectHalfspace(h, -1)
		if err != nil {
			return nil, err
		}
		out = append(out, branch{s: up.ConstCoord(i, 1), code: appendCode(b.code, '2')})
	}
	return out, nil
}

// ReachApprox computes a single over-approximating star from LP-tight
// neuron bounds.
func (p SatLin) ReachApprox(sv lp.Solver, s *set.Star) (*set.Star, error) {
	lo, hi, empty, err := starBounds(sv, s)
	if err != nil {
		return nil, fmt.Errorf("satlin approx: %w", err)
	}
	if empty {
		return nil, nil
	}
	return satlinRelax(s, lo, hi)
}

// ReachApproxFast is ReachApprox with interval bound estimates.
func (p SatLin) ReachApproxFast(s *set.Star) (*set.Star, error) {
	lo, hi, err := starBoundsEstimate(s)
	if err != nil {
		return nil, fmt.Errorf("satlin fast approx: %w", err)
	}
	return satlinRelax(s, lo, hi)
}

// satlinRelax builds a sound linear relaxation of saturation per neuron,
// by the position of [lb, ub] relative to the two breakpoints 0 and 1.
func satlinRelax(s *set.Star, lo, hi []float64) (*set.Star, error) {
	m := 0
	for i := range lo {
		if !(hi[i] <= 0 || lo[i] >= 1 || (lo[i] >= 0 && hi[i] <= 1)) {
			m++
		}
	}
	b := newRelax(s, m)
	for i := range lo {
		l, u := lo[i], hi[i]
		switch {
		case u <= 0:
			b.setConst(i, 0)
		case l >= 1:
			b.setConst(i, 1)
		case l >= 0 && u <= 1:
			// linear region, already kept
		case l < 0 && u <= 1:
			// straddles 0 only: the ReLU triangle with u <= 1.
			j := b.newVar(i, 0, u)
			lam := u / (u - l)
			b.addRow(i, 0, j, -1, 0)            // y >= 0
			b.addRow(i, 1, j, -1, 0)            // y >= x
			b.addRow(i, -lam, j, 1, -lam*l)     // y <= lam*(x - l)
		case l >= 0 && u > 1:
			// straddles 1 only: chord below, identity and cap above.
			j := b.newVar(i, l, 1)
			kap := (1 - l) / (u - l)
			b.addRow(i, 0, j, 1, 1)             // y <= 1
			b.addRow(i, -1, j, 1, 0)            // y <= x
			b.addRow(i, kap, j, -1, kap*l-l)    // y >= l + kap*(x - l)
		default:
			// straddles both breakpoints.
			j := b.newVar(i, 0, 1)
			alpha := 1 / (1 - l)
			beta := 1 / u
			b.addRow(i, 0, j, -1, 0)            // y >= 0
			b.addRow(i, 0, j, 1, 1)             // y <= 1
			b.addRow(i, -alpha, j, 1, -alpha*l) // y <= (x - l)/(1 - l)
			b.addRow(i, beta, j, -1, 0)         // y >= x/u
		}
	}
	return b.build()
}

// ReachZono clamps saturated neurons and replaces each ambiguous neuron
// by the interval hull of its saturated range.
func (p SatLin) ReachZono(z *set.Zono) (*set.Zono, error) {
	n := z.Dim()
	k := z.NumGens()
	sat := func(x float64) float64 {
		if x < 0 {
			return 0
		}
		if x > 1 {
			return 1
		}
		return x
	}
	type amb struct {
		i        int
		mid, rad float64
	}
	var ambs []amb
	center := make([]float64, n)
	for i := 0; i < n; i++ {
		lo, hi := z.Bounds(i)
		if lo >= 0 && hi <= 1 {
			center[i] = z.Center(i)
			continue
		}
		fl, fu := sat(lo), sat(hi)
		center[i] = (fl + fu) / 2
		if fu > fl {
			ambs = append(ambs, amb{i: i, mid: (fl + fu) / 2, rad: (fu - fl) / 2})
		}
	}
	v := newDense(n, k+len(ambs))
	for i := 0; i < n; i++ {
		lo, hi := z.Bounds(i)
		if lo >= 0 && hi <= 1 {
			for j := 0; j < k; j++ {
				v.Set(i, j, z.Generators().At(i, j))
			}
		}
	}
	for t, a := range ambs {
		v.Set(a.i, k+t, a.rad)
	}
	return set.NewZono(center, v)
}
