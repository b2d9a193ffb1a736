// Package set implements the set representations the reachability engine
// propagates through network layers: Box, Zono, Star, Star2D and
// ImageStar. Every value is immutable; operations return new sets, which
// keeps independent branches of an exact case split free of shared state.
package set

import "errors"

var (
	// ErrDimension reports a shape mismatch between centers, generators,
	// constraint systems or filter channel counts.
	ErrDimension = errors.New("set: dimension mismatch")

	// ErrShape reports a Star<->Star2D reshape whose element count does
	// not factor as height*width, or an invalid spatial parameter.
	ErrShape = errors.New("set: invalid shape")

	// ErrConstraintMismatch reports a Star2D sum whose operands quantify
	// over different constraint systems. Summing is only sound when both
	// operands share the same free variables and feasible region, so this
	// always indicates a caller bug.
	ErrConstraintMismatch = errors.New("set: constraint systems differ")

	// ErrEmptyBounds reports a box whose lower bound exceeds its upper
	// bound in some dimension.
	ErrEmptyBounds = errors.New("set: lower bound exceeds upper bound")

	// ErrUnboundedPredicate reports an operation that needs finite
	// predicate variable ranges (interval bound estimation) on a star
	// whose constraint system carries none.
	ErrUnboundedPredicate = errors.New("set: predicate variable bounds unknown")
)

// ConstraintTol is the numerical tolerance used when comparing the
// constraint systems of two stars before summing them.
const ConstraintTol = 1e-4
