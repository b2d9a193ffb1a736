package lp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	glp "gonum.org/v1/gonum/optimize/convex/lp"
)

// Simplex is the default oracle, backed by gonum's dense simplex. The
// general-form program (inequalities, equalities, free variables) is
// rewritten to standard form with lp.Convert before solving.
type Simplex struct {
	// Tol is the pivot tolerance handed to gonum; zero selects gonum's
	// default.
	Tol float64
}

var _ Solver = Simplex{}

// Solve implements Solver.
func (s Simplex) Solve(obj []float64, sys *System, eqA mat.Matrix, eqB []float64) (Result, error) {
	n := sys.Vars()
	if len(obj) != n {
		return Result{}, fmt.Errorf("objective length %d for %d variables: %w", len(obj), n, ErrDimension)
	}
	if eqA != nil {
		er, ec := eqA.Dims()
		if ec != n || er != len(eqB) {
			return Result{}, fmt.Errorf("equality block %dx%d with %d rhs: %w", er, ec, len(eqB), ErrDimension)
		}
	}

	g, h := stackInequalities(sys)
	c2, a2, b2 := glp.Convert(obj, g, h, eqA, eqB)
	opt, x, err := glp.Simplex(c2, a2, b2, s.Tol, nil)
	switch {
	case err == nil:
	case errors.Is(err, glp.ErrInfeasible):
		return Result{Status: StatusInfeasible}, nil
	case errors.Is(err, glp.ErrUnbounded):
		return Result{Status: StatusUnbounded}, nil
	default:
		return Result{}, fmt.Errorf("lp: simplex: %w", err)
	}

	// Convert splits each free variable v into v+ - v-, laid out as the
	// first 2n standard-form variables.
	pt := make([]float64, n)
	for i := range pt {
		pt[i] = x[i] - x[n+i]
	}
	return Result{Status: StatusOptimal, Value: opt, Point: pt}, nil
}

// stackInequalities folds any finite variable bounds into the inequality
// block as extra +-e_j rows.
func stackInequalities(sys *System) (*mat.Dense, []float64) {
	m, n := sys.c.Dims()
	if sys.lb == nil {
		return sys.c, sys.d
	}
	var extra int
	for j := 0; j < n; j++ {
		if !math.IsInf(sys.ub[j], 1) {
			extra++
		}
		if !math.IsInf(sys.lb[j], -1) {
			extra++
		}
	}
	if extra == 0 {
		return sys.c, sys.d
	}
	g := mat.NewDense(m+extra, n, nil)
	g.Slice(0, m, 0, n).(*mat.Dense).Copy(sys.c)
	h := append(make([]float64, 0, m+extra), sys.d...)
	row := m
	for j := 0; j < n; j++ {
		if !math.IsInf(sys.ub[j], 1) {
			g.Set(row, j, 1)
			h = append(h, sys.ub[j])
			row++
		}
		if !math.IsInf(sys.lb[j], -1) {
			g.Set(row, j, -1)
			h = append(h, -sys.lb[j])
			row++
		}
	}
	return g, h
}
