package transfer

import (
	"fmt"
	"math"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"github.com/DaveForstot-MathWorks/nnv/set"
)

// smooth is the shared transformer for monotone sigmoidal activations.
// Each neuron's output is enclosed by the interval [f(lb), f(ub)] together
// with two parallel lines of slope kappa = min(f'(lb), f'(ub)), a sound
// relaxation because f' attains its minimum over [lb, ub] at an endpoint.
type smooth struct {
	name string
	f    func(float64) float64
	df   func(float64) float64
}

// LogSig is the sigmoid transfer function y = 1/(1+exp(-x)).
func LogSig() Function {
	f := func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	return &smooth{
		name: "logsig",
		f:    f,
		df:   func(x float64) float64 { s := f(x); return s * (1 - s) },
	}
}

// TanSig is the hyperbolic tangent transfer function.
func TanSig() Function {
	return &smooth{
		name: "tansig",
		f:    math.Tanh,
		df:   func(x float64) float64 { t := math.Tanh(x); return 1 - t*t },
	}
}

func (s *smooth) Name() string { return s.name }

// Reach has no finite exact decomposition for smooth activations.
func (s *smooth) Reach(lp.Solver, *set.Star) ([]*set.Star, error) {
	return nil, fmt.Errorf("%s: %w", s.name, ErrExactUnsupported)
}

// ReachApprox computes a single over-approximating star from LP-tight
// neuron bounds.
func (s *smooth) ReachApprox(sv lp.Solver, in *set.Star) (*set.Star, error) {
	lo, hi, empty, err := starBounds(sv, in)
	if err != nil {
		return nil, fmt.Errorf("%s approx: %w", s.name, err)
	}
	if empty {
		return nil, nil
	}
	return s.relax(in, lo, hi)
}

// ReachApproxFast is ReachApprox with interval bound estimates.
func (s *smooth) ReachApproxFast(in *set.Star) (*set.Star, error) {
	lo, hi, err := starBoundsEstimate(in)
	if err != nil {
		return nil, fmt.Errorf("%s fast approx: %w", s.name, err)
	}
	return s.relax(in, lo, hi)
}

const degenerateWidth = 1e-12

func (s *smooth) relax(in *set.Star, lo, hi []float64) (*set.Star, error) {
	m := 0
	for i := range lo {
		if hi[i]-lo[i] > degenerateWidth {
			m++
		}
	}
	b := newRelax(in, m)
	for i := range lo {
		l, u := lo[i], hi[i]
		if u-l <= degenerateWidth {
			b.setConst(i, s.f(l))
			continue
		}
		fl, fu := s.f(l), s.f(u)
		kap := math.Min(s.df(l), s.df(u))
		j := b.newVar(i, fl, fu)
		b.addRow(i, 0, j, -1, -fl)         // y >= f(l)
		b.addRow(i, 0, j, 1, fu)           // y <= f(u)
		b.addRow(i, kap, j, -1, kap*l-fl)  // y >= f(l) + kap*(x - l)
		b.addRow(i, -kap, j, 1, fu-kap*u)  // y <= f(u) + kap*(x - u)
	}
	return b.build()
}

// ReachZono is the minimum-slope zonotope relaxation: the neuron's row is
// scaled by kappa and one generator absorbs the enclosure error.
func (s *smooth) ReachZono(z *set.Zono) (*set.Zono, error) {
	n := z.Dim()
	k := z.NumGens()
	type amb struct {
		i            int
		kap, mu, rad float64
	}
	var ambs []amb
	center := make([]float64, n)
	for i := 0; i < n; i++ {
		lo, hi := z.Bounds(i)
		if hi-lo <= degenerateWidth {
			center[i] = s.f(lo)
			continue
		}
		fl, fu := s.f(lo), s.f(hi)
		kap := math.Min(s.df(lo), s.df(hi))
		mu := (fu + fl - kap*(hi+lo)) / 2
		rad := (fu - fl - kap*(hi-lo)) / 2
		center[i] = kap*z.Center(i) + mu
		ambs = append(ambs, amb{i: i, kap: kap, mu: mu, rad: rad})
	}
	v := newDense(n, k+len(ambs))
	for t, a := range ambs {
		for j := 0; j < k; j++ {
			v.Set(a.i, j, a.kap*z.Generators().At(a.i, j))
		}
		v.Set(a.i, k+t, a.rad)
	}
	return set.NewZono(center, v)
}
