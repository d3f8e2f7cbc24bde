package octgrid

import (
	"golang.org/x/xerrors"
)

// CombineN stacks grids along the batch dimension. All grids need the same
// block-grid dimensions and feature size.
func CombineN(grids []*Grid, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if len(grids) == 0 {
		return xerrors.Errorf("combine: no grids: %w", ErrInvalidArgument)
	}
	ref := grids[0]
	n, nLeafs := 0, 0
	for i, g := range grids {
		if g == out {
			return xerrors.Errorf("combine: grid %d: %w", i, ErrAliasedGrid)
		}
		if g.gridDepth != ref.gridDepth || g.gridHeight != ref.gridHeight ||
			g.gridWidth != ref.gridWidth || g.featureSize != ref.featureSize {
			return xerrors.Errorf("combine: grid %d %s vs %s: %w", i, g, ref, ErrShapeMismatch)
		}
		n += g.n
		nLeafs += g.nLeafs
	}

	if err := out.Resize(n, ref.gridDepth, ref.gridHeight, ref.gridWidth, ref.featureSize, nLeafs); err != nil {
		return err
	}
	treeOff, dataOff := 0, 0
	for _, g := range grids {
		treeOff += copy(out.trees[treeOff:], g.trees[:g.NumBlocks()])
		dataOff += copy(out.data[dataOff:], g.data[:g.nLeafs*g.featureSize])
	}
	out.UpdatePrefixLeafs()
	return cfg.postcheck("combine", out)
}

// ExtractN copies the batch entries [from, to) of in into out.
func ExtractN(in *Grid, from, to int, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if from < 0 || to > in.n || from >= to {
		return xerrors.Errorf("extract n: range [%d, %d) of %d: %w", from, to, in.n, ErrInvalidArgument)
	}
	if out == in {
		return xerrors.Errorf("extract n: %w", ErrAliasedGrid)
	}

	perEntry := in.gridDepth * in.gridHeight * in.gridWidth
	blo, bhi := from*perEntry, to*perEntry
	llo, lhi := in.prefixLeafs[blo], in.prefixLeafs[bhi]

	if err := out.Resize(to-from, in.gridDepth, in.gridHeight, in.gridWidth, in.featureSize, lhi-llo); err != nil {
		return err
	}
	copy(out.trees, in.trees[blo:bhi])
	copy(out.data, in.data[llo*in.featureSize:lhi*in.featureSize])
	out.UpdatePrefixLeafs()
	return cfg.postcheck("extract n", out)
}

// ExtractFeature copies the channels [from, to) of every leaf of in into out,
// which takes the structure of in.
func ExtractFeature(in *Grid, from, to int, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if from < 0 || to > in.featureSize || from >= to {
		return xerrors.Errorf("extract feature: range [%d, %d) of %d: %w", from, to, in.featureSize, ErrInvalidFeatureSize)
	}
	if out == in {
		return xerrors.Errorf("extract feature: %w", ErrAliasedGrid)
	}

	if err := copyStructureWithFeatures(out, in, to-from); err != nil {
		return err
	}
	fsIn, fsOut := in.featureSize, out.featureSize
	forEachBlock(in.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		src, dst := in.BlockData(gridIdx), out.BlockData(gridIdx)
		for l := 0; l < len(dst)/fsOut; l++ {
			copy(dst[l*fsOut:(l+1)*fsOut], src[l*fsIn+from:l*fsIn+to])
		}
	})
	return cfg.postcheck("extract feature", out)
}

// Concat stacks the channels of in1 and in2 into out. Both grids must share
// the leaf layout; check additionally verifies that their trees are equal.
func Concat(in1, in2 *Grid, check bool, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if in1.n != in2.n || in1.gridDepth != in2.gridDepth || in1.gridHeight != in2.gridHeight ||
		in1.gridWidth != in2.gridWidth || in1.nLeafs != in2.nLeafs {
		return xerrors.Errorf("concat: %s vs %s: %w", in1, in2, ErrShapeMismatch)
	}
	if check && !EqualTrees(in1, in2) {
		return xerrors.Errorf("concat: %w", ErrTreeMismatch)
	}
	if out == in1 || out == in2 {
		return xerrors.Errorf("concat: %w", ErrAliasedGrid)
	}

	fs1, fs2 := in1.featureSize, in2.featureSize
	if err := copyStructureWithFeatures(out, in1, fs1+fs2); err != nil {
		return err
	}
	fs := out.featureSize
	forEachBlock(in1.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		a, b, dst := in1.BlockData(gridIdx), in2.BlockData(gridIdx), out.BlockData(gridIdx)
		for l := 0; l < len(dst)/max(fs, 1); l++ {
			copy(dst[l*fs:l*fs+fs1], a[l*fs1:(l+1)*fs1])
			copy(dst[l*fs+fs1:(l+1)*fs], b[l*fs2:(l+1)*fs2])
		}
	})
	return cfg.postcheck("concat", out)
}

// ConcatBackward splits the gradient of a Concat output into the gradients
// of its two inputs. in1 provides the channel split point and the structure.
func ConcatBackward(in1, gradOut, gradIn1, gradIn2 *Grid, opts ...Option) error {
	fs1 := in1.featureSize
	if gradOut.featureSize <= fs1 || gradOut.nLeafs != in1.nLeafs || gradOut.NumBlocks() != in1.NumBlocks() {
		return xerrors.Errorf("concat backward: %s vs %s: %w", in1, gradOut, ErrShapeMismatch)
	}
	if gradIn1 == gradIn2 {
		return xerrors.Errorf("concat backward: %w", ErrAliasedGrid)
	}
	if err := ExtractFeature(gradOut, 0, fs1, gradIn1, opts...); err != nil {
		return xerrors.Errorf("concat backward: %w", err)
	}
	if err := ExtractFeature(gradOut, fs1, gradOut.featureSize, gradIn2, opts...); err != nil {
		return xerrors.Errorf("concat backward: %w", err)
	}
	return nil
}

func copyStructureWithFeatures(dst, src *Grid, featureSize int) error {
	if err := dst.Resize(src.n, src.gridDepth, src.gridHeight, src.gridWidth, featureSize, src.nLeafs); err != nil {
		return err
	}
	dst.CopyTrees(src)
	dst.CopyPrefixLeafs(src)
	return nil
}
