package octgrid

import (
	"math"

	"golang.org/x/xerrors"
)

// CheckFinite returns ErrNonFiniteValue if the leaf data of grid holds a NaN
// or an infinity. name identifies the checkpoint in the error.
func CheckFinite(grid *Grid, name string) error {
	for i, v := range grid.data {
		if !isFinite(v) {
			leaf := i / max(grid.featureSize, 1)
			gridIdx, bitIdx := grid.LeafBitIndex(leaf)
			return xerrors.Errorf("%s: value %v at leaf %d (block %d, bit %d, channel %d): %w",
				name, v, leaf, gridIdx, bitIdx, i%max(grid.featureSize, 1), ErrNonFiniteValue)
		}
	}
	return nil
}

// CheckFiniteDense is CheckFinite for a plain array.
func CheckFiniteDense(values []float32, name string) error {
	for i, v := range values {
		if !isFinite(v) {
			return xerrors.Errorf("%s: value %v at index %d: %w", name, v, i, ErrNonFiniteValue)
		}
	}
	return nil
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (c *config) postcheck(op string, g *Grid) error {
	if !c.validate {
		return nil
	}
	if err := g.Validate(); err != nil {
		return xerrors.Errorf("%s: %w", op, err)
	}
	return CheckFinite(g, op)
}
