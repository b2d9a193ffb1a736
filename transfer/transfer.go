// Package transfer implements the activation set-transformers: for a
// given input Star or Zono, each transfer function produces the exact
// post-activation reachable set (a union of stars) or a single sound
// over-approximation. All variants sit behind one Function interface
// rather than per-activation one-off code.
package transfer

import (
	"errors"
	"fmt"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"github.com/DaveForstot-MathWorks/nnv/set"
)

// ErrExactUnsupported is returned by Reach on activations with no finite
// exact decomposition (logsig, tansig).
var ErrExactUnsupported = errors.New("transfer: exact reachability unsupported for this activation")

// Function is a set-transformer strategy for one activation.
//
// Reach computes the exact image as a finite union of stars; output order
// is not significant. An empty input star yields an empty union.
//
// ReachApprox computes a single over-approximating star using LP-tight
// neuron bounds; ReachApproxFast uses interval bound estimates instead of
// LP queries (strictly faster, strictly less precise). ReachZono is the
// coarser zonotope relaxation: no constraint rows, interval enclosure
// only. Approx variants return a nil set (and nil error) on an empty
// input.
type Function interface {
	Name() string
	Reach(sv lp.Solver, s *set.Star) ([]*set.Star, error)
	ReachApprox(sv lp.Solver, s *set.Star) (*set.Star, error)
	ReachApproxFast(s *set.Star) (*set.Star, error)
	ReachZono(z *set.Zono) (*set.Zono, error)
}

// starBounds computes LP-tight bounds of every coordinate. empty reports
// an infeasible (pruned) input star.
func starBounds(sv lp.Solver, s *set.Star) (lo, hi []float64, empty bool, err error) {
	n := s.Dim()
	lo = make([]float64, n)
	hi = make([]float64, n)
	for i := 0; i < n; i++ {
		l, h, st, err := s.Bounds(sv, i)
		if err != nil {
			return nil, nil, false, fmt.Errorf("bounding neuron %d: %w", i, err)
		}
		if st == lp.StatusInfeasible {
			return nil, nil, true, nil
		}
		lo[i], hi[i] = l, h
	}
	return lo, hi, false, nil
}

// starBoundsEstimate computes interval bounds of every coordinate from
// the predicate variable ranges, with no LP.
func starBoundsEstimate(s *set.Star) (lo, hi []float64, err error) {
	n := s.Dim()
	lo = make([]float64, n)
	hi = make([]float64, n)
	for i := 0; i < n; i++ {
		l, h, err := s.EstimateBounds(i)
		if err != nil {
			return nil, nil, fmt.Errorf("estimating neuron %d: %w", i, err)
		}
		lo[i], hi[i] = l, h
	}
	return lo, hi, nil
}
