package transfer

import (
	"github.com/DaveForstot-MathWorks/nnv/set"
	"gonum.org/v1/gonum/mat"
)

// relax assembles the over-approximating star of an activation layer:
// kept coordinates copy their generator row, saturated coordinates become
// constants, and each ambiguous coordinate is replaced by one fresh
// predicate variable tied to the old pre-activation by linear relaxation
// rows.
type relax struct {
	src  *set.Star
	n, k int
	m    int // number of new variables
	used int

	center []float64
	v      *mat.Dense // n x (k+m)
	rows   [][]float64
	rhs    []float64
	lb, ub []float64 // bounds of the new variables
}

// newDense is mat.NewDense with a floor of one column, since gonum
// rejects empty matrices.
func newDense(r, c int) *mat.Dense {
	if c < 1 {
		c = 1
	}
	return mat.NewDense(r, c, nil)
}

func newRelax(s *set.Star, m int) *relax {
	n, k := s.Dim(), s.NumVars()
	b := &relax{
		src: s, n: n, k: k, m: m,
		center: make([]float64, n),
		v:      mat.NewDense(n, k+m, nil),
		lb:     make([]float64, m),
		ub:     make([]float64, m),
	}
	for i := 0; i < n; i++ {
		b.keep(i)
	}
	return b
}

// keep copies coordinate i unchanged (identity on that neuron).
func (b *relax) keep(i int) {
	b.center[i] = b.src.Center(i)
	for j, vij := range b.src.GeneratorRow(i) {
		b.v.Set(i, j, vij)
	}
}

// setConst pins coordinate i to a constant (saturated neuron).
func (b *relax) setConst(i int, val float64) {
	b.center[i] = val
	for j := 0; j < b.k+b.m; j++ {
		b.v.Set(i, j, 0)
	}
}

// newVar replaces coordinate i by a fresh predicate variable bounded by
// [lo, hi] and returns its index among the new variables.
func (b *relax) newVar(i int, lo, hi float64) int {
	j := b.used
	b.used++
	b.setConst(i, 0)
	b.v.Set(i, b.k+j, 1)
	b.lb[j] = lo
	b.ub[j] = hi
	return j
}

// addRow appends the relaxation constraint xc*x_i + yc*y_j <= r, where
// x_i is the pre-activation of coordinate i expressed through the source
// star (center + generator row) and y_j is new variable j.
func (b *relax) addRow(i int, xc float64, j int, yc float64, r float64) {
	row := make([]float64, b.k+b.m)
	for t, vit := range b.src.GeneratorRow(i) {
		row[t] = xc * vit
	}
	row[b.k+j] = yc
	b.rows = append(b.rows, row)
	b.rhs = append(b.rhs, r-xc*b.src.Center(i))
}

func (b *relax) build() (*set.Star, error) {
	sys := b.src.Constraints()
	if b.m > 0 {
		var err error
		if sys, err = sys.ExtendVars(b.lb, b.ub); err != nil {
			return nil, err
		}
	}
	if len(b.rows) > 0 {
		rows := mat.NewDense(len(b.rows), b.k+b.m, nil)
		for i, r := range b.rows {
			rows.SetRow(i, r)
		}
		var err error
		if sys, err = sys.AppendRows(rows, b.rhs); err != nil {
			return nil, err
		}
	}
	return set.NewStar(b.center, b.v, sys)
}
