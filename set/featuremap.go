package set

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FeatureMapSize computes the output length of one spatial axis of a
// strided, dilated cross-correlation:
//
//	floor((in - (filter-1)*dilation - 1)/stride + 1)
//
// This formula is load-bearing: every downstream reachable set inherits
// its shape from it.
func FeatureMapSize(in, filter, stride, dilation int) int {
	return (in-(filter-1)*dilation-1)/stride + 1
}

// ComputeFeatureMap is a standard strided, dilated 2D cross-correlation
// of in with filter. Filter taps falling outside in contribute zero,
// matching an already-zero-padded border.
func ComputeFeatureMap(in, filter *mat.Dense, strideR, strideC, dilR, dilC int) (*mat.Dense, error) {
	if strideR < 1 || strideC < 1 || dilR < 1 || dilC < 1 {
		return nil, fmt.Errorf("stride (%d,%d) dilation (%d,%d): %w", strideR, strideC, dilR, dilC, ErrShape)
	}
	ih, iw := in.Dims()
	fh, fw := filter.Dims()
	oh := FeatureMapSize(ih, fh, strideR, dilR)
	ow := FeatureMapSize(iw, fw, strideC, dilC)
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("filter %dx%d (dilation %d,%d) does not fit input %dx%d: %w",
			fh, fw, dilR, dilC, ih, iw, ErrShape)
	}
	out := mat.NewDense(oh, ow, nil)
	for or := 0; or < oh; or++ {
		for oc := 0; oc < ow; oc++ {
			sum := 0.0
			for fr := 0; fr < fh; fr++ {
				ir := or*strideR + fr*dilR
				if ir >= ih {
					continue
				}
				for fc := 0; fc < fw; fc++ {
					ic := oc*strideC + fc*dilC
					if ic >= iw {
						continue
					}
					sum += in.At(ir, ic) * filter.At(fr, fc)
				}
			}
			out.Set(or, oc, sum)
		}
	}
	return out, nil
}
