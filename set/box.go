package set

import (
	"fmt"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"gonum.org/v1/gonum/mat"
)

// Box is an axis-aligned hyperrectangle lb <= x <= ub.
type Box struct {
	lb, ub []float64
}

// NewBox validates len(lb) == len(ub) and lb <= ub elementwise.
func NewBox(lb, ub []float64) (*Box, error) {
	if len(lb) != len(ub) || len(lb) == 0 {
		return nil, fmt.Errorf("box bounds of length %d and %d: %w", len(lb), len(ub), ErrDimension)
	}
	for i := range lb {
		if lb[i] > ub[i] {
			return nil, fmt.Errorf("dimension %d has lb %v > ub %v: %w", i, lb[i], ub[i], ErrEmptyBounds)
		}
	}
	return &Box{lb: append([]float64(nil), lb...), ub: append([]float64(nil), ub...)}, nil
}

// Dim reports the state dimension.
func (b *Box) Dim() int { return len(b.lb) }

// Lower reports the lower bound of dimension i.
func (b *Box) Lower(i int) float64 { return b.lb[i] }

// Upper reports the upper bound of dimension i.
func (b *Box) Upper(i int) float64 { return b.ub[i] }

// Contains reports whether x lies in the box.
func (b *Box) Contains(x []float64) bool {
	if len(x) != len(b.lb) {
		return false
	}
	for i := range x {
		if x[i] < b.lb[i] || x[i] > b.ub[i] {
			return false
		}
	}
	return true
}

// ToStar lifts the box to a star: center = midpoint, one generator per
// dimension of nonzero width (degenerate dimensions are dropped to keep
// the predicate small), predicate = unit box.
func (b *Box) ToStar() *Star {
	n := b.Dim()
	center := make([]float64, n)
	var live []int
	for i := 0; i < n; i++ {
		center[i] = (b.lb[i] + b.ub[i]) / 2
		if b.ub[i] > b.lb[i] {
			live = append(live, i)
		}
	}
	k := len(live)
	if k == 0 {
		// A point box still needs a predicate to be a star.
		v := mat.NewDense(n, 1, nil)
		s, _ := NewStar(center, v, lp.UnitBox(1))
		return s
	}
	v := mat.NewDense(n, k, nil)
	for j, i := range live {
		v.Set(i, j, (b.ub[i]-b.lb[i])/2)
	}
	s, _ := NewStar(center, v, lp.UnitBox(k))
	return s
}

// ToZono lifts the box to a zonotope with the same midpoint/half-width
// structure as ToStar.
func (b *Box) ToZono() *Zono {
	n := b.Dim()
	center := make([]float64, n)
	var live []int
	for i := 0; i < n; i++ {
		center[i] = (b.lb[i] + b.ub[i]) / 2
		if b.ub[i] > b.lb[i] {
			live = append(live, i)
		}
	}
	k := len(live)
	if k == 0 {
		k = 1
	}
	v := mat.NewDense(n, k, nil)
	for j, i := range live {
		v.Set(i, j, (b.ub[i]-b.lb[i])/2)
	}
	z, _ := NewZono(center, v)
	return z
}
