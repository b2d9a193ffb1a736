package set

import (
	"fmt"
	"runtime"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// BoxRep is the outer box representation of an image set: a center image
// plus per-pixel lower/upper offsets, one matrix per channel. Pixel p of
// channel ch ranges over [IM+LB, IM+UB].
type BoxRep struct {
	IM []*mat.Dense
	LB []*mat.Dense
	UB []*mat.Dense
}

// FilterBank is one convolution layer's weights: W[out][in] spatial
// filters plus an optional per-output-channel bias.
type FilterBank struct {
	W    [][]*mat.Dense
	Bias []float64
}

// ImageStar is a stack of per-channel Star2D sets sharing one predicate,
// optionally paired with a box representation. The box is an outer
// approximation of the precise star form; after a convolution it MUST be
// dropped, since a convolution cannot be expressed as independent
// per-pixel boxes.
type ImageStar struct {
	channels []*Star2D
	box      *BoxRep
	nc, h, w int
}

// FromChannelSets builds an ImageStar from per-channel Star2D sets of
// identical shape, with no box representation.
func FromChannelSets(channels []*Star2D) (*ImageStar, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("image star with no channels: %w", ErrDimension)
	}
	h, w := channels[0].Height(), channels[0].Width()
	for i, ch := range channels {
		if ch.Height() != h || ch.Width() != w {
			return nil, fmt.Errorf("channel %d is %dx%d, expected %dx%d: %w",
				i, ch.Height(), ch.Width(), h, w, ErrDimension)
		}
	}
	return &ImageStar{channels: channels, nc: len(channels), h: h, w: w}, nil
}

// FromBoxBounds builds an ImageStar from a box representation. All
// channels share one unit-box predicate with a variable per pixel of
// nonzero width, so per-channel contributions can later be summed during
// convolution. The box representation is retained alongside the star
// form.
func FromBoxBounds(im, lb, ub []*mat.Dense) (*ImageStar, error) {
	nc := len(im)
	if nc == 0 || len(lb) != nc || len(ub) != nc {
		return nil, fmt.Errorf("box representation with %d/%d/%d channels: %w", len(im), len(lb), len(ub), ErrDimension)
	}
	h, w := im[0].Dims()
	type pixel struct{ ch, r, c int }
	var live []pixel
	for ch := 0; ch < nc; ch++ {
		for _, m := range []*mat.Dense{im[ch], lb[ch], ub[ch]} {
			mh, mw := m.Dims()
			if mh != h || mw != w {
				return nil, fmt.Errorf("channel %d box arrays are %dx%d, expected %dx%d: %w", ch, mh, mw, h, w, ErrDimension)
			}
		}
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				lo, hi := lb[ch].At(r, c), ub[ch].At(r, c)
				if lo > hi {
					return nil, fmt.Errorf("channel %d pixel (%d,%d) has lb %v > ub %v: %w", ch, r, c, lo, hi, ErrEmptyBounds)
				}
				if hi > lo {
					live = append(live, pixel{ch, r, c})
				}
			}
		}
	}
	k := len(live)
	if k == 0 {
		k = 1
	}
	sys := lp.UnitBox(k)

	channels := make([]*Star2D, nc)
	for ch := 0; ch < nc; ch++ {
		basis := make([]*mat.Dense, k+1)
		center := mat.NewDense(h, w, nil)
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				mid := im[ch].At(r, c) + (lb[ch].At(r, c)+ub[ch].At(r, c))/2
				center.Set(r, c, mid)
			}
		}
		basis[0] = center
		for j := 0; j < k; j++ {
			gen := mat.NewDense(h, w, nil)
			if j < len(live) && live[j].ch == ch {
				p := live[j]
				gen.Set(p.r, p.c, (ub[ch].At(p.r, p.c)-lb[ch].At(p.r, p.c))/2)
			}
			basis[j+1] = gen
		}
		s2d, err := NewStar2D(basis, sys)
		if err != nil {
			return nil, err
		}
		channels[ch] = s2d
	}
	return &ImageStar{
		channels: channels,
		box:      &BoxRep{IM: im, LB: lb, UB: ub},
		nc:       nc, h: h, w: w,
	}, nil
}

// FromFlatStar reshapes a flat star (channel-major, row-major within each
// channel) onto an nc x h x w image grid. The inverse of ToStar; no box
// representation.
func FromFlatStar(s *Star, nc, h, w int) (*ImageStar, error) {
	if nc <= 0 || h <= 0 || w <= 0 || nc*h*w != s.Dim() {
		return nil, fmt.Errorf("reshaping %d-dimensional star to %dx%dx%d: %w", s.Dim(), nc, h, w, ErrShape)
	}
	k := s.NumVars()
	channels := make([]*Star2D, nc)
	for ch := 0; ch < nc; ch++ {
		basis := make([]*mat.Dense, k+1)
		for b := 0; b <= k; b++ {
			m := mat.NewDense(h, w, nil)
			for r := 0; r < h; r++ {
				for c := 0; c < w; c++ {
					i := ch*h*w + r*w + c
					if b == 0 {
						m.Set(r, c, s.Center(i))
					} else {
						m.Set(r, c, s.Generators().At(i, b-1))
					}
				}
			}
			basis[b] = m
		}
		s2d, err := NewStar2D(basis, s.Constraints())
		if err != nil {
			return nil, err
		}
		channels[ch] = s2d
	}
	return &ImageStar{channels: channels, nc: nc, h: h, w: w}, nil
}

// NumChannels reports the channel count.
func (m *ImageStar) NumChannels() int { return m.nc }

// Height reports the spatial height.
func (m *ImageStar) Height() int { return m.h }

// Width reports the spatial width.
func (m *ImageStar) Width() int { return m.w }

// BoxRep exposes the box representation, or nil when none is held.
func (m *ImageStar) BoxRep() *BoxRep { return m.box }

// Channel returns the Star2D of channel i.
func (m *ImageStar) Channel(i int) (*Star2D, error) {
	if i < 0 || i >= m.nc {
		return nil, fmt.Errorf("channel %d of %d: %w", i, m.nc, ErrDimension)
	}
	return m.channels[i], nil
}

// ExtractChannel produces a single-channel ImageStar for channel i,
// carrying that channel's slice of the box representation when present.
func (m *ImageStar) ExtractChannel(i int) (*ImageStar, error) {
	ch, err := m.Channel(i)
	if err != nil {
		return nil, err
	}
	out := &ImageStar{channels: []*Star2D{ch}, nc: 1, h: m.h, w: m.w}
	if m.box != nil {
		out.box = &BoxRep{
			IM: []*mat.Dense{m.box.IM[i]},
			LB: []*mat.Dense{m.box.LB[i]},
			UB: []*mat.Dense{m.box.UB[i]},
		}
	}
	return out, nil
}

// ZeroPadding pads every channel (star basis matrices and box arrays
// alike) with zero borders. All-zero padding returns an equivalent copy.
func (m *ImageStar) ZeroPadding(top, bottom, left, right int) (*ImageStar, error) {
	if top < 0 || bottom < 0 || left < 0 || right < 0 {
		return nil, fmt.Errorf("negative padding (%d,%d,%d,%d): %w", top, bottom, left, right, ErrShape)
	}
	channels := make([]*Star2D, m.nc)
	for i, ch := range m.channels {
		p, err := ch.Pad(top, bottom, left, right)
		if err != nil {
			return nil, err
		}
		channels[i] = p
	}
	out := &ImageStar{channels: channels, nc: m.nc, h: m.h + top + bottom, w: m.w + left + right}
	if m.box != nil {
		out.box = &BoxRep{
			IM: make([]*mat.Dense, m.nc),
			LB: make([]*mat.Dense, m.nc),
			UB: make([]*mat.Dense, m.nc),
		}
		for i := 0; i < m.nc; i++ {
			out.box.IM[i] = padMatrix(m.box.IM[i], top, bottom, left, right)
			out.box.LB[i] = padMatrix(m.box.LB[i], top, bottom, left, right)
			out.box.UB[i] = padMatrix(m.box.UB[i], top, bottom, left, right)
		}
	}
	return out, nil
}

// Convolve computes the feature maps of the image star under the filter
// bank: pad, then for every output channel accumulate the per-input-
// channel feature maps of every basis matrix. Output channels are
// independent and computed in parallel. The box representation is dropped
// from the result.
func (m *ImageStar) Convolve(fb *FilterBank, padTop, padBottom, padLeft, padRight int, strideR, strideC, dilR, dilC int) (*ImageStar, error) {
	if len(fb.W) == 0 {
		return nil, fmt.Errorf("empty filter bank: %w", ErrDimension)
	}
	for o, perIn := range fb.W {
		if len(perIn) != m.nc {
			return nil, fmt.Errorf("filter %d has %d input channels, image has %d: %w", o, len(perIn), m.nc, ErrDimension)
		}
	}
	if fb.Bias != nil && len(fb.Bias) != len(fb.W) {
		return nil, fmt.Errorf("%d biases for %d output channels: %w", len(fb.Bias), len(fb.W), ErrDimension)
	}
	padded, err := m.ZeroPadding(padTop, padBottom, padLeft, padRight)
	if err != nil {
		return nil, err
	}

	outs := make([]*Star2D, len(fb.W))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for o := range fb.W {
		o := o
		g.Go(func() error {
			var acc *Star2D
			for in := 0; in < padded.nc; in++ {
				fm, err := padded.channels[in].FeatureMap(fb.W[o][in], strideR, strideC, dilR, dilC)
				if err != nil {
					return err
				}
				if acc == nil {
					acc = fm
				} else if acc, err = acc.Sum(fm); err != nil {
					return err
				}
			}
			if fb.Bias != nil {
				acc = acc.AddConst(fb.Bias[o])
			}
			outs[o] = acc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return FromChannelSets(outs)
}

// ToStar flattens all channels (channel-major, each row-major) into one
// flat star sharing the common predicate. Channels must quantify over the
// same predicate, as they do for any ImageStar built by this package.
func (m *ImageStar) ToStar() (*Star, error) {
	sys := m.channels[0].Constraints()
	for i := 1; i < m.nc; i++ {
		if m.channels[i].NumVars() != m.channels[0].NumVars() ||
			!sys.EqualWithin(m.channels[i].Constraints(), ConstraintTol) {
			return nil, fmt.Errorf("flattening channels over different predicates: %w", ErrConstraintMismatch)
		}
	}
	n := m.nc * m.h * m.w
	k := sys.Vars()
	center := make([]float64, n)
	v := mat.NewDense(n, k, nil)
	for ch := 0; ch < m.nc; ch++ {
		for r := 0; r < m.h; r++ {
			for c := 0; c < m.w; c++ {
				i := ch*m.h*m.w + r*m.w + c
				center[i] = m.channels[ch].Basis(0).At(r, c)
				for j := 0; j < k; j++ {
					v.Set(i, j, m.channels[ch].Basis(j+1).At(r, c))
				}
			}
		}
	}
	return NewStar(center, v, sys)
}
