// Package reach drives a star set through an ordered sequence of network
// layers. Affine and convolution layers are exact linear maps; activation
// layers invoke their transfer function in the configured mode. Exact
// mode carries a split budget: past it (or on context cancellation) the
// remaining branches are finished over-approximately, so the returned
// union is always sound and never silently truncated.
package reach

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/DaveForstot-MathWorks/nnv/lp"
	"github.com/DaveForstot-MathWorks/nnv/set"
	"github.com/DaveForstot-MathWorks/nnv/transfer"
)

// Mode selects how activation layers are propagated.
type Mode int

const (
	// Exact computes the precise image as a union of stars.
	Exact Mode = iota
	// Approx computes one over-approximating star with LP-tight bounds.
	Approx
	// ApproxFast is Approx with interval bound estimation instead of LP.
	ApproxFast
)

func (m Mode) String() string {
	switch m {
	case Exact:
		return "exact"
	case Approx:
		return "approx"
	case ApproxFast:
		return "approx-fast"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ErrLayerInput reports a layer applied to the wrong kind of set, e.g. a
// convolution on an already-flattened star list.
var ErrLayerInput = errors.New("reach: layer applied to wrong input kind")

// Options configures one reachability run.
type Options struct {
	Mode   Mode
	Solver lp.Solver
	// SplitBudget caps the number of live stars during exact activation
	// propagation; zero means unlimited. When exceeded, the layer falls
	// back to approximate mode for the overflowing branches.
	SplitBudget int
	// Workers caps layer-level parallelism; zero means GOMAXPROCS.
	Workers int
	// Logger receives per-layer debug events. The zero value is disabled
	// and discards them, like zerolog.Nop().
	Logger zerolog.Logger
}

func (o Options) solver() lp.Solver {
	if o.Solver != nil {
		return o.Solver
	}
	return lp.Simplex{}
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Result is the reachable set at the network output: a union of stars,
// flagged when any step was widened beyond the exact image.
type Result struct {
	Stars []*set.Star
	// Overapproximated is true when any activation layer ran in an
	// approximate mode, including exact-mode budget fallbacks.
	Overapproximated bool
}

// value is the running set between layers: a star union for dense
// processing or an image star for spatial processing.
type value struct {
	stars []*set.Star
	image *set.ImageStar
}

// Layer is one network layer.
type Layer interface {
	apply(ctx context.Context, v value, opts Options) (value, bool, error)
}

// Affine is the fully-connected layer y = W*x + b. B may be nil.
type Affine struct {
	W *mat.Dense
	B *mat.VecDense
}

func (l *Affine) apply(ctx context.Context, v value, opts Options) (value, bool, error) {
	if v.stars == nil {
		return value{}, false, fmt.Errorf("affine layer on image input: %w", ErrLayerInput)
	}
	out := make([]*set.Star, len(v.stars))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i := range v.stars {
		i := i
		g.Go(func() error {
			s, err := v.stars[i].AffineMap(l.W, l.B)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return value{}, false, err
	}
	return value{stars: out}, false, nil
}

// Conv2D is a convolution layer over an image star.
type Conv2D struct {
	Filters                              *set.FilterBank
	PadTop, PadBottom, PadLeft, PadRight int
	StrideR, StrideC                     int
	DilationR, DilationC                 int
}

func (l *Conv2D) apply(_ context.Context, v value, _ Options) (value, bool, error) {
	if v.image == nil {
		return value{}, false, fmt.Errorf("conv2d layer on flat input: %w", ErrLayerInput)
	}
	sr, sc := max(l.StrideR, 1), max(l.StrideC, 1)
	dr, dc := max(l.DilationR, 1), max(l.DilationC, 1)
	img, err := v.image.Convolve(l.Filters, l.PadTop, l.PadBottom, l.PadLeft, l.PadRight, sr, sc, dr, dc)
	if err != nil {
		return value{}, false, err
	}
	return value{image: img}, false, nil
}

// Flatten converts an image star into a flat star for dense layers.
type Flatten struct{}

func (Flatten) apply(_ context.Context, v value, _ Options) (value, bool, error) {
	if v.image == nil {
		return value{}, false, fmt.Errorf("flatten layer on flat input: %w", ErrLayerInput)
	}
	s, err := v.image.ToStar()
	if err != nil {
		return value{}, false, err
	}
	return value{stars: []*set.Star{s}}, false, nil
}

// Activation applies a transfer function in the run's mode.
type Activation struct {
	Fn transfer.Function
}

func (l *Activation) apply(ctx context.Context, v value, opts Options) (value, bool, error) {
	if v.stars == nil {
		return value{}, false, fmt.Errorf("activation layer on image input: %w", ErrLayerInput)
	}
	switch opts.Mode {
	case Approx, ApproxFast:
		out, err := l.applyApprox(ctx, v.stars, opts)
		return value{stars: out}, true, err
	}
	return l.applyExact(ctx, v.stars, opts)
}

func (l *Activation) applyApprox(ctx context.Context, stars []*set.Star, opts Options) ([]*set.Star, error) {
	out := make([]*set.Star, len(stars))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for i := range stars {
		i := i
		g.Go(func() error {
			var s *set.Star
			var err error
			if opts.Mode == ApproxFast {
				s, err = l.Fn.ReachApproxFast(stars[i])
			} else {
				s, err = l.Fn.ReachApprox(opts.solver(), stars[i])
			}
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Empty inputs produce nil sets; drop them from the union.
	kept := out[:0]
	for _, s := range out {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return kept, nil
}

func (l *Activation) applyExact(ctx context.Context, stars []*set.Star, opts Options) (value, bool, error) {
	var exact, widened []*set.Star
	over := false
	for i, s := range stars {
		budgetHit := opts.SplitBudget > 0 && len(exact)+len(stars)-i > opts.SplitBudget
		if ctx.Err() != nil || budgetHit {
			// Finish the remaining branches over-approximately; the
			// union stays sound.
			opts.Logger.Debug().
				Int("pending", len(stars)-i).
				Bool("cancelled", ctx.Err() != nil).
				Msg("widening remaining exact branches")
			rest, err := l.applyApprox(context.Background(), stars[i:], opts)
			if err != nil {
				return value{}, false, err
			}
			widened = rest
			over = true
			break
		}
		pieces, err := l.Fn.Reach(opts.solver(), s)
		if err != nil {
			return value{}, false, err
		}
		exact = append(exact, pieces...)
	}
	// The union may be empty when every branch pruned; it stays a valid
	// (non-nil) flat value so downstream layers see the right input kind.
	out := make([]*set.Star, 0, len(exact)+len(widened))
	out = append(out, exact...)
	out = append(out, widened...)
	return value{stars: out}, over, nil
}

// Network is an ordered sequence of layers.
type Network struct {
	Layers []Layer
}

// Reach propagates the input star through every layer. See Options for
// the budget and cancellation policy.
func (n *Network) Reach(ctx context.Context, input *set.Star, opts Options) (*Result, error) {
	return n.reach(ctx, value{stars: []*set.Star{input}}, opts)
}

// ReachImage propagates an image star through a convolutional prefix; the
// network must contain a Flatten layer before any dense layer.
func (n *Network) ReachImage(ctx context.Context, input *set.ImageStar, opts Options) (*Result, error) {
	return n.reach(ctx, value{image: input}, opts)
}

func (n *Network) reach(ctx context.Context, v value, opts Options) (*Result, error) {
	over := false
	for i, layer := range n.Layers {
		next, widened, err := layer.apply(ctx, v, opts)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		v = next
		over = over || widened
		ev := opts.Logger.Debug().Int("layer", i).Str("mode", opts.Mode.String())
		if v.stars != nil {
			ev = ev.Int("stars", len(v.stars))
		} else {
			ev = ev.Int("channels", v.image.NumChannels())
		}
		ev.Msg("layer propagated")
	}
	if v.stars == nil {
		s, err := v.image.ToStar()
		if err != nil {
			return nil, err
		}
		v.stars = []*set.Star{s}
	}
	if opts.Mode != Exact {
		over = true
	}
	return &Result{Stars: v.stars, Overapproximated: over}, nil
}
