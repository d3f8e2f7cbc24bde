package octgrid

import "errors"

var (
	ErrShapeMismatch      = errors.New("octree grid shapes do not match")
	ErrInvalidFeatureSize = errors.New("invalid feature size")
	ErrTreeMismatch       = errors.New("octree grid tree structures do not match")
	ErrNonFiniteValue     = errors.New("non-finite value")
	ErrCorruptGrid        = errors.New("octree grid invariants violated")
	ErrAliasedGrid        = errors.New("output grid aliases an input grid")
	ErrInvalidArgument    = errors.New("invalid argument")
)
