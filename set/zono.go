package set

import (
	"fmt"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Zono is the zonotope {center + V*a : a in [-1,1]^k}: a star whose
// predicate is always the unit box and therefore needs no LP to bound.
type Zono struct {
	c *mat.VecDense // n
	v *mat.Dense    // n x k
}

// NewZono validates that the generator row count equals the center length.
func NewZono(center []float64, gens *mat.Dense) (*Zono, error) {
	rows, _ := gens.Dims()
	if rows != len(center) {
		return nil, fmt.Errorf("zonotope center length %d, generator rows %d: %w", len(center), rows, ErrDimension)
	}
	return &Zono{c: mat.NewVecDense(len(center), append([]float64(nil), center...)), v: gens}, nil
}

// Dim reports the state dimension.
func (z *Zono) Dim() int { return z.c.Len() }

// NumGens reports the number of generators.
func (z *Zono) NumGens() int {
	_, k := z.v.Dims()
	return k
}

// Center reports coordinate i of the center.
func (z *Zono) Center(i int) float64 { return z.c.AtVec(i) }

// Generators exposes the generator matrix. Callers must not mutate it.
func (z *Zono) Generators() *mat.Dense { return z.v }

// AffineMap applies y = W*x + b. b may be nil.
func (z *Zono) AffineMap(w mat.Matrix, b *mat.VecDense) (*Zono, error) {
	wr, wc := w.Dims()
	if wc != z.Dim() {
		return nil, fmt.Errorf("affine map %dx%d on %d-dimensional zonotope: %w", wr, wc, z.Dim(), ErrDimension)
	}
	if b != nil && b.Len() != wr {
		return nil, fmt.Errorf("affine offset length %d for %d rows: %w", b.Len(), wr, ErrDimension)
	}
	c := mat.NewVecDense(wr, nil)
	c.MulVec(w, z.c)
	if b != nil {
		c.AddVec(c, b)
	}
	_, k := z.v.Dims()
	v := mat.NewDense(wr, k, nil)
	v.Mul(w, z.v)
	return &Zono{c: c, v: v}, nil
}

// MinkowskiSum adds another zonotope: centers add, generator sets
// concatenate.
func (z *Zono) MinkowskiSum(o *Zono) (*Zono, error) {
	if z.Dim() != o.Dim() {
		return nil, fmt.Errorf("minkowski sum of dimensions %d and %d: %w", z.Dim(), o.Dim(), ErrDimension)
	}
	n := z.Dim()
	c := mat.NewVecDense(n, nil)
	c.AddVec(z.c, o.c)
	_, k1 := z.v.Dims()
	_, k2 := o.v.Dims()
	v := mat.NewDense(n, k1+k2, nil)
	v.Slice(0, n, 0, k1).(*mat.Dense).Copy(z.v)
	v.Slice(0, n, k1, k1+k2).(*mat.Dense).Copy(o.v)
	return &Zono{c: c, v: v}, nil
}

// Bounds computes the exact interval of coordinate i: center plus/minus
// the absolute row sum of the generators. No LP is needed.
func (z *Zono) Bounds(i int) (lo, hi float64) {
	r := floats.Norm(z.v.RawRowView(i), 1)
	return z.c.AtVec(i) - r, z.c.AtVec(i) + r
}

// Box is the tight interval hull of the zonotope.
func (z *Zono) Box() *Box {
	n := z.Dim()
	lb := make([]float64, n)
	ub := make([]float64, n)
	for i := 0; i < n; i++ {
		lb[i], ub[i] = z.Bounds(i)
	}
	b, _ := NewBox(lb, ub)
	return b
}

// ToStar converts the zonotope to a star with a unit-box predicate.
func (z *Zono) ToStar() *Star {
	center := make([]float64, z.Dim())
	for i := range center {
		center[i] = z.c.AtVec(i)
	}
	s, _ := NewStar(center, mat.DenseCopyOf(z.v), lp.UnitBox(z.NumGens()))
	return s
}
