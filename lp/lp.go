// Package lp holds the linear constraint system C*a <= d shared by every
// star set, together with the LP oracle interface all feasibility and
// bound queries reduce to. Systems are immutable: every mutation-shaped
// operation (AppendRow, ExtendVars) returns a fresh System.
package lp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrDimension is returned when a system is built or extended with
// mismatched shapes. Matched with errors.Is.
var ErrDimension = errors.New("lp: dimension mismatch")

// Status is the outcome of an LP query. Infeasible and Unbounded are
// ordinary results, not errors: an empty feasible region prunes a branch
// of the reachability search instead of aborting it.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result carries the outcome of one solver call. Value and Point are only
// meaningful when Status is StatusOptimal.
type Result struct {
	Status Status
	Value  float64
	Point  []float64
}

// Solver is the external LP oracle: minimize obj over the system's
// feasible region, optionally intersected with eqA*a == eqB. Both eq
// arguments may be nil. Implementations must report empty regions through
// Result.Status, never through the error.
type Solver interface {
	Solve(obj []float64, sys *System, eqA mat.Matrix, eqB []float64) (Result, error)
}

// System is the feasible region {a : C*a <= d}, optionally with per
// variable bounds lb <= a <= ub (entries may be +-Inf). Read-only after
// construction.
type System struct {
	c      *mat.Dense // m x n
	d      []float64  // m
	lb, ub []float64  // nil or length n
}

// NewSystem validates C.rows == len(d) and wraps them in a System.
func NewSystem(c *mat.Dense, d []float64) (*System, error) {
	if c == nil {
		return nil, fmt.Errorf("nil constraint matrix: %w", ErrDimension)
	}
	m, _ := c.Dims()
	if m != len(d) {
		return nil, fmt.Errorf("constraint rows %d != rhs length %d: %w", m, len(d), ErrDimension)
	}
	return &System{c: c, d: append([]float64(nil), d...)}, nil
}

// WithBounds returns a copy of the system with per-variable bounds
// attached. Entries may be infinite.
func (s *System) WithBounds(lb, ub []float64) (*System, error) {
	n := s.Vars()
	if len(lb) != n || len(ub) != n {
		return nil, fmt.Errorf("bound length %d,%d for %d variables: %w", len(lb), len(ub), n, ErrDimension)
	}
	out := *s
	out.lb = append([]float64(nil), lb...)
	out.ub = append([]float64(nil), ub...)
	return &out, nil
}

// UnitBox is the system -1 <= a <= 1 over k variables, written as
// [I; -I] a <= 1. It is the predicate of every box- or zonotope-origin
// star.
func UnitBox(k int) *System {
	c := mat.NewDense(2*k, k, nil)
	d := make([]float64, 2*k)
	lb := make([]float64, k)
	ub := make([]float64, k)
	for i := 0; i < k; i++ {
		c.Set(i, i, 1)
		c.Set(k+i, i, -1)
		d[i] = 1
		d[k+i] = 1
		lb[i] = -1
		ub[i] = 1
	}
	return &System{c: c, d: d, lb: lb, ub: ub}
}

// Rows reports the number of inequality rows.
func (s *System) Rows() int {
	m, _ := s.c.Dims()
	return m
}

// Vars reports the number of free variables.
func (s *System) Vars() int {
	_, n := s.c.Dims()
	return n
}

// C exposes the constraint matrix. Callers must not mutate it.
func (s *System) C() *mat.Dense { return s.c }

// D exposes the right-hand side. Callers must not mutate it.
func (s *System) D() []float64 { return s.d }

// VarBounds reports the stored bounds of variable j, or (-Inf, +Inf) when
// none were attached.
func (s *System) VarBounds(j int) (lo, hi float64) {
	if s.lb == nil {
		return math.Inf(-1), math.Inf(1)
	}
	return s.lb[j], s.ub[j]
}

// AppendRow returns a new system with one extra inequality row*a <= rhs.
func (s *System) AppendRow(row []float64, rhs float64) (*System, error) {
	n := s.Vars()
	if len(row) != n {
		return nil, fmt.Errorf("row length %d for %d variables: %w", len(row), n, ErrDimension)
	}
	m := s.Rows()
	c := mat.NewDense(m+1, n, nil)
	c.Slice(0, m, 0, n).(*mat.Dense).Copy(s.c)
	c.SetRow(m, row)
	out := &System{c: c, d: append(append([]float64(nil), s.d...), rhs), lb: s.lb, ub: s.ub}
	return out, nil
}

// AppendRows returns a new system with every row of rows appended.
func (s *System) AppendRows(rows *mat.Dense, rhs []float64) (*System, error) {
	mr, nr := rows.Dims()
	n := s.Vars()
	if nr != n || mr != len(rhs) {
		return nil, fmt.Errorf("appending %dx%d rows with %d rhs to %d-variable system: %w",
			mr, nr, len(rhs), n, ErrDimension)
	}
	m := s.Rows()
	c := mat.NewDense(m+mr, n, nil)
	c.Slice(0, m, 0, n).(*mat.Dense).Copy(s.c)
	c.Slice(m, m+mr, 0, n).(*mat.Dense).Copy(rows)
	return &System{c: c, d: append(append([]float64(nil), s.d...), rhs...), lb: s.lb, ub: s.ub}, nil
}

// ExtendVars returns a new system over Vars()+len(lb) variables. Existing
// rows get zero coefficients on the new variables; the new variables carry
// the given bounds. len(lb) must equal len(ub) and be positive.
func (s *System) ExtendVars(lb, ub []float64) (*System, error) {
	if len(lb) == 0 || len(lb) != len(ub) {
		return nil, fmt.Errorf("extending by %d,%d variables: %w", len(lb), len(ub), ErrDimension)
	}
	m, n := s.c.Dims()
	k := len(lb)
	c := mat.NewDense(m, n+k, nil)
	c.Slice(0, m, 0, n).(*mat.Dense).Copy(s.c)

	newLb := make([]float64, n+k)
	newUb := make([]float64, n+k)
	for j := 0; j < n; j++ {
		newLb[j], newUb[j] = s.VarBounds(j)
	}
	copy(newLb[n:], lb)
	copy(newUb[n:], ub)
	return &System{c: c, d: append([]float64(nil), s.d...), lb: newLb, ub: newUb}, nil
}

// EqualWithin reports whether two systems describe the same region up to
// tol in the max norm of C and d. Exact float equality is unsound here, so
// star sums compare constraint systems through this.
func (s *System) EqualWithin(o *System, tol float64) bool {
	if s == o {
		return true
	}
	if s.Rows() != o.Rows() || s.Vars() != o.Vars() {
		return false
	}
	for i := 0; i < s.Rows(); i++ {
		if math.Abs(s.d[i]-o.d[i]) > tol {
			return false
		}
		for j := 0; j < s.Vars(); j++ {
			if math.Abs(s.c.At(i, j)-o.c.At(i, j)) > tol {
				return false
			}
		}
	}
	return true
}

// IsFeasible asks the oracle whether the region is nonempty.
func (s *System) IsFeasible(sv Solver) (bool, error) {
	res, err := sv.Solve(make([]float64, s.Vars()), s, nil, nil)
	if err != nil {
		return false, err
	}
	return res.Status != StatusInfeasible, nil
}

// Minimize solves min obj . a over the region.
func (s *System) Minimize(sv Solver, obj []float64) (Result, error) {
	if len(obj) != s.Vars() {
		return Result{}, fmt.Errorf("objective length %d for %d variables: %w", len(obj), s.Vars(), ErrDimension)
	}
	return sv.Solve(obj, s, nil, nil)
}

// Bounds computes min and max of dir . a over the region by two LP
// solves. An unbounded direction yields an infinite endpoint; an empty
// region yields StatusInfeasible.
func (s *System) Bounds(sv Solver, dir []float64) (lo, hi float64, st Status, err error) {
	res, err := s.Minimize(sv, dir)
	if err != nil {
		return 0, 0, StatusOptimal, err
	}
	switch res.Status {
	case StatusInfeasible:
		return 0, 0, StatusInfeasible, nil
	case StatusUnbounded:
		lo = math.Inf(-1)
	default:
		lo = res.Value
	}

	neg := make([]float64, len(dir))
	for i, v := range dir {
		neg[i] = -v
	}
	res, err = s.Minimize(sv, neg)
	if err != nil {
		return 0, 0, StatusOptimal, err
	}
	switch res.Status {
	case StatusInfeasible:
		return 0, 0, StatusInfeasible, nil
	case StatusUnbounded:
		hi = math.Inf(1)
	default:
		hi = -res.Value
	}
	return lo, hi, StatusOptimal, nil
}
