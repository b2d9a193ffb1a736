package set

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Star is the generalized star set {center + V*a : C*a <= d}. It is the
// universal currency of the engine: affine layers compose into the center
// and generators without ever touching the constraint system, which is
// what keeps predicate growth bounded under linear layers.
type Star struct {
	c *mat.VecDense // n
	v *mat.Dense    // n x k
	p *lp.System    // over k variables
}

// NewStar validates that generator columns match the predicate variable
// count and generator rows match the center length.
func NewStar(center []float64, gens *mat.Dense, sys *lp.System) (*Star, error) {
	rows, cols := gens.Dims()
	if rows != len(center) {
		return nil, fmt.Errorf("star center length %d, generator rows %d: %w", len(center), rows, ErrDimension)
	}
	if cols != sys.Vars() {
		return nil, fmt.Errorf("star has %d generators but predicate has %d variables: %w", cols, sys.Vars(), ErrDimension)
	}
	return &Star{
		c: mat.NewVecDense(len(center), append([]float64(nil), center...)),
		v: gens,
		p: sys,
	}, nil
}

// Dim reports the state dimension.
func (s *Star) Dim() int { return s.c.Len() }

// NumVars reports the number of predicate variables.
func (s *Star) NumVars() int { return s.p.Vars() }

// Center reports coordinate i of the center.
func (s *Star) Center(i int) float64 { return s.c.AtVec(i) }

// Generators exposes the generator matrix. Callers must not mutate it.
func (s *Star) Generators() *mat.Dense { return s.v }

// Constraints exposes the predicate. Callers must not mutate it.
func (s *Star) Constraints() *lp.System { return s.p }

// GeneratorRow copies row i of the generator matrix.
func (s *Star) GeneratorRow(i int) []float64 {
	k := s.NumVars()
	row := make([]float64, k)
	for j := 0; j < k; j++ {
		row[j] = s.v.At(i, j)
	}
	return row
}

// AffineMap applies y = W*x + b. The constraint system is shared with the
// input star: an affine map never changes the feasible predicate region.
// b may be nil.
func (s *Star) AffineMap(w mat.Matrix, b *mat.VecDense) (*Star, error) {
	wr, wc := w.Dims()
	if wc != s.Dim() {
		return nil, fmt.Errorf("affine map %dx%d on %d-dimensional star: %w", wr, wc, s.Dim(), ErrDimension)
	}
	if b != nil && b.Len() != wr {
		return nil, fmt.Errorf("affine offset length %d for %d rows: %w", b.Len(), wr, ErrDimension)
	}
	c := mat.NewVecDense(wr, nil)
	c.MulVec(w, s.c)
	if b != nil {
		c.AddVec(c, b)
	}
	v := mat.NewDense(wr, s.NumVars(), nil)
	v.Mul(w, s.v)
	return &Star{c: c, v: v, p: s.p}, nil
}

// IntersectHalfspace intersects with {x : h.x <= g} by appending the row
// (h^T V) a <= g - h.c to the predicate. The result may be empty; that is
// discovered lazily at the next LP query, where an exact-mode split treats
// it as a pruned branch.
func (s *Star) IntersectHalfspace(h []float64, g float64) (*Star, error) {
	if len(h) != s.Dim() {
		return nil, fmt.Errorf("halfspace normal length %d for dimension %d: %w", len(h), s.Dim(), ErrDimension)
	}
	k := s.NumVars()
	row := make([]float64, k)
	rhs := g
	for i, hi := range h {
		if hi == 0 {
			continue
		}
		rhs -= hi * s.c.AtVec(i)
		for j := 0; j < k; j++ {
			row[j] += hi * s.v.At(i, j)
		}
	}
	p, err := s.p.AppendRow(row, rhs)
	if err != nil {
		return nil, err
	}
	return &Star{c: s.c, v: s.v, p: p}, nil
}

// ConstCoord pins coordinate i to the constant val: the generator row is
// zeroed and the center entry replaced. Used by activation transformers
// when a neuron is provably saturated.
func (s *Star) ConstCoord(i int, val float64) *Star {
	n, k := s.v.Dims()
	c := mat.VecDenseCopyOf(s.c)
	c.SetVec(i, val)
	v := mat.NewDense(n, k, nil)
	v.Copy(s.v)
	for j := 0; j < k; j++ {
		v.Set(i, j, 0)
	}
	return &Star{c: c, v: v, p: s.p}
}

// Bounds computes the interval of coordinate i by two LP solves. An empty
// star reports lp.StatusInfeasible.
func (s *Star) Bounds(sv lp.Solver, i int) (lo, hi float64, st lp.Status, err error) {
	lo, hi, st, err = s.p.Bounds(sv, s.GeneratorRow(i))
	if err != nil || st != lp.StatusOptimal {
		return 0, 0, st, err
	}
	ci := s.c.AtVec(i)
	return lo + ci, hi + ci, lp.StatusOptimal, nil
}

// EstimateBounds computes an interval enclosure of coordinate i from the
// stored predicate variable ranges alone, with no LP. The interval is
// sound but generally looser than Bounds. Returns ErrUnboundedPredicate
// when a contributing variable carries no finite range.
func (s *Star) EstimateBounds(i int) (lo, hi float64, err error) {
	lo = s.c.AtVec(i)
	hi = lo
	for j := 0; j < s.NumVars(); j++ {
		vij := s.v.At(i, j)
		if vij == 0 {
			continue
		}
		bl, bu := s.p.VarBounds(j)
		if math.IsInf(bl, -1) || math.IsInf(bu, 1) {
			return 0, 0, fmt.Errorf("variable %d: %w", j, ErrUnboundedPredicate)
		}
		a := vij * bl
		b := vij * bu
		lo += math.Min(a, b)
		hi += math.Max(a, b)
	}
	return lo, hi, nil
}

// IsEmpty asks the oracle whether the predicate region is empty.
func (s *Star) IsEmpty(sv lp.Solver) (bool, error) {
	ok, err := s.p.IsFeasible(sv)
	return !ok, err
}

// Contains decides membership of x by LP feasibility of
// {a : V a = x - center, C a <= d}. The equalities are encoded as
// inequality pairs, which keeps the oracle robust to zero generator rows.
func (s *Star) Contains(sv lp.Solver, x []float64) (bool, error) {
	if len(x) != s.Dim() {
		return false, fmt.Errorf("point of length %d in %d-dimensional star: %w", len(x), s.Dim(), ErrDimension)
	}
	n, k := s.v.Dims()
	const slack = 1e-7 // membership tolerance against LP round-off
	rows := mat.NewDense(2*n, k, nil)
	rhs := make([]float64, 2*n)
	for i := 0; i < n; i++ {
		d := x[i] - s.c.AtVec(i)
		for j := 0; j < k; j++ {
			rows.Set(i, j, s.v.At(i, j))
			rows.Set(n+i, j, -s.v.At(i, j))
		}
		rhs[i] = d + slack
		rhs[n+i] = -d + slack
	}
	p, err := s.p.AppendRows(rows, rhs)
	if err != nil {
		return false, err
	}
	return p.IsFeasible(sv)
}

// Box computes the bounding box of the star by 2n LP solves. An empty
// star returns nil with no error.
func (s *Star) Box(sv lp.Solver) (*Box, error) {
	n := s.Dim()
	lb := make([]float64, n)
	ub := make([]float64, n)
	for i := 0; i < n; i++ {
		lo, hi, st, err := s.Bounds(sv, i)
		if err != nil {
			return nil, err
		}
		if st == lp.StatusInfeasible {
			return nil, nil
		}
		lb[i] = lo
		ub[i] = hi
	}
	return NewBox(lb, ub)
}

// Sample draws up to n member points by rejection sampling over the
// predicate variable box. Stars whose predicate carries no finite ranges
// fall back to per-variable LP bounds. Fewer than n points may come back
// when the predicate region is a thin slice of its bounding box.
func (s *Star) Sample(sv lp.Solver, n int, rng *rand.Rand) ([][]float64, error) {
	k := s.NumVars()
	lb := make([]float64, k)
	ub := make([]float64, k)
	for j := 0; j < k; j++ {
		bl, bu := s.p.VarBounds(j)
		if math.IsInf(bl, -1) || math.IsInf(bu, 1) {
			e := make([]float64, k)
			e[j] = 1
			lo, hi, st, err := s.p.Bounds(sv, e)
			if err != nil {
				return nil, err
			}
			if st != lp.StatusOptimal {
				return nil, nil
			}
			bl, bu = lo, hi
		}
		lb[j], ub[j] = bl, bu
	}

	c := s.p.C()
	d := s.p.D()
	m := s.p.Rows()
	var out [][]float64
	a := make([]float64, k)
	for tries := 0; tries < 100*n && len(out) < n; tries++ {
		for j := 0; j < k; j++ {
			a[j] = lb[j] + rng.Float64()*(ub[j]-lb[j])
		}
		ok := true
		for i := 0; i < m && ok; i++ {
			if floats.Dot(c.RawRowView(i), a) > d[i]+1e-9 {
				ok = false
			}
		}
		if !ok {
			continue
		}
		x := make([]float64, s.Dim())
		for i := range x {
			x[i] = s.c.AtVec(i)
			for j := 0; j < k; j++ {
				x[i] += s.v.At(i, j) * a[j]
			}
		}
		out = append(out, x)
	}
	return out, nil
}

// ToStar2D reshapes the star onto an h x w grid: the center and each
// generator column become h x w matrices in row-major order.
func (s *Star) ToStar2D(h, w int) (*Star2D, error) {
	if h <= 0 || w <= 0 || h*w != s.Dim() {
		return nil, fmt.Errorf("reshaping %d-dimensional star to %dx%d: %w", s.Dim(), h, w, ErrShape)
	}
	k := s.NumVars()
	basis := make([]*mat.Dense, k+1)
	for b := 0; b <= k; b++ {
		m := mat.NewDense(h, w, nil)
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				i := r*w + c
				if b == 0 {
					m.Set(r, c, s.c.AtVec(i))
				} else {
					m.Set(r, c, s.v.At(i, b-1))
				}
			}
		}
		basis[b] = m
	}
	return NewStar2D(basis, s.p)
}
