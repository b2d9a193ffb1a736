package set

import (
	"fmt"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"gonum.org/v1/gonum/mat"
)

// Star2D is a star whose center and generators keep their 2D spatial
// structure: basis[0] is the center matrix, basis[1..k] the generator
// matrices, all of identical shape. Convolution and pooling operate on
// this form directly, without flattening away the spatial layout.
type Star2D struct {
	basis []*mat.Dense // k+1 matrices, h x w
	p     *lp.System   // over k variables
	h, w  int
}

// NewStar2D validates that all basis matrices share one shape and that
// their count is the predicate variable count plus one.
func NewStar2D(basis []*mat.Dense, sys *lp.System) (*Star2D, error) {
	if len(basis) == 0 {
		return nil, fmt.Errorf("star2d with no basis matrices: %w", ErrDimension)
	}
	h, w := basis[0].Dims()
	for i, b := range basis {
		bh, bw := b.Dims()
		if bh != h || bw != w {
			return nil, fmt.Errorf("basis matrix %d is %dx%d, expected %dx%d: %w", i, bh, bw, h, w, ErrDimension)
		}
	}
	if len(basis) != sys.Vars()+1 {
		return nil, fmt.Errorf("star2d has %d basis matrices but predicate has %d variables: %w",
			len(basis), sys.Vars(), ErrDimension)
	}
	return &Star2D{basis: basis, p: sys, h: h, w: w}, nil
}

// Height reports the spatial height.
func (s *Star2D) Height() int { return s.h }

// Width reports the spatial width.
func (s *Star2D) Width() int { return s.w }

// NumVars reports the number of predicate variables.
func (s *Star2D) NumVars() int { return len(s.basis) - 1 }

// Basis exposes basis matrix i (0 is the center). Callers must not
// mutate it.
func (s *Star2D) Basis(i int) *mat.Dense { return s.basis[i] }

// Constraints exposes the predicate. Callers must not mutate it.
func (s *Star2D) Constraints() *lp.System { return s.p }

// ToStar flattens each basis matrix row-major into a vector, producing an
// independent Star over h*w dimensions with the same predicate.
func (s *Star2D) ToStar() *Star {
	n := s.h * s.w
	k := s.NumVars()
	center := make([]float64, n)
	v := mat.NewDense(n, k, nil)
	for r := 0; r < s.h; r++ {
		for c := 0; c < s.w; c++ {
			i := r*s.w + c
			center[i] = s.basis[0].At(r, c)
			for j := 0; j < k; j++ {
				v.Set(i, j, s.basis[j+1].At(r, c))
			}
		}
	}
	out, _ := NewStar(center, v, s.p)
	return out
}

// Sum adds another Star2D elementwise. Both operands must have the same
// shape and quantify over the same predicate: the constraint systems are
// compared numerically within ConstraintTol, and any difference beyond it
// is a caller bug reported as ErrConstraintMismatch.
func (s *Star2D) Sum(o *Star2D) (*Star2D, error) {
	if s.h != o.h || s.w != o.w {
		return nil, fmt.Errorf("summing %dx%d and %dx%d star2d: %w", s.h, s.w, o.h, o.w, ErrDimension)
	}
	if s.NumVars() != o.NumVars() || !s.p.EqualWithin(o.p, ConstraintTol) {
		return nil, fmt.Errorf("summing star2d over different predicates: %w", ErrConstraintMismatch)
	}
	basis := make([]*mat.Dense, len(s.basis))
	for i := range basis {
		m := mat.NewDense(s.h, s.w, nil)
		m.Add(s.basis[i], o.basis[i])
		basis[i] = m
	}
	return &Star2D{basis: basis, p: s.p, h: s.h, w: s.w}, nil
}

// AddConst adds the constant v to every center entry. Generators are
// untouched; a constant shift only moves the center.
func (s *Star2D) AddConst(v float64) *Star2D {
	basis := append([]*mat.Dense(nil), s.basis...)
	m := mat.NewDense(s.h, s.w, nil)
	m.Copy(s.basis[0])
	for r := 0; r < s.h; r++ {
		for c := 0; c < s.w; c++ {
			m.Set(r, c, m.At(r, c)+v)
		}
	}
	basis[0] = m
	return &Star2D{basis: basis, p: s.p, h: s.h, w: s.w}
}

// Pad surrounds every basis matrix with the requested zero borders. All
// arguments must be non-negative; all-zero padding returns an equivalent
// copy rather than an error.
func (s *Star2D) Pad(top, bottom, left, right int) (*Star2D, error) {
	if top < 0 || bottom < 0 || left < 0 || right < 0 {
		return nil, fmt.Errorf("negative padding (%d,%d,%d,%d): %w", top, bottom, left, right, ErrShape)
	}
	basis := make([]*mat.Dense, len(s.basis))
	for i, b := range s.basis {
		basis[i] = padMatrix(b, top, bottom, left, right)
	}
	return &Star2D{basis: basis, p: s.p, h: s.h + top + bottom, w: s.w + left + right}, nil
}

// FeatureMap convolves every basis matrix with the filter. Convolution is
// a linear map applied identically to the center and each generator,
// which is exactly why the predicate passes through unchanged.
func (s *Star2D) FeatureMap(filter *mat.Dense, strideR, strideC, dilR, dilC int) (*Star2D, error) {
	basis := make([]*mat.Dense, len(s.basis))
	for i, b := range s.basis {
		fm, err := ComputeFeatureMap(b, filter, strideR, strideC, dilR, dilC)
		if err != nil {
			return nil, err
		}
		basis[i] = fm
	}
	h, w := basis[0].Dims()
	return &Star2D{basis: basis, p: s.p, h: h, w: w}, nil
}

func padMatrix(m *mat.Dense, top, bottom, left, right int) *mat.Dense {
	h, w := m.Dims()
	out := mat.NewDense(h+top+bottom, w+left+right, nil)
	out.Slice(top, top+h, left, left+w).(*mat.Dense).Copy(m)
	return out
}
