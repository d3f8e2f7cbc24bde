package octgrid

import (
	"golang.org/x/xerrors"
)

// SplitByProb refines in wherever the probability of an unsplit node is at
// least thr. prob holds one value per leaf and must share the leaf layout of
// in; check additionally verifies that the trees are identical. Splits
// present in in are kept, so the result is never coarser than in. Leaf
// values of in are broadcast into the new leaves of out.
func SplitByProb(in, prob *Grid, thr float32, check bool, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if prob.featureSize != 1 {
		return xerrors.Errorf("split by prob: prob feature size %d != 1: %w", prob.featureSize, ErrInvalidFeatureSize)
	}
	if out == in || out == prob {
		return xerrors.Errorf("split by prob: %w", ErrAliasedGrid)
	}
	if in.NumBlocks() != prob.NumBlocks() || in.nLeafs != prob.nLeafs {
		return xerrors.Errorf("split by prob: %s vs %s: %w", in, prob, ErrShapeMismatch)
	}
	if !equalPrefixLeafs(in, prob) {
		return xerrors.Errorf("split by prob: per-block leaf counts differ: %w", ErrShapeMismatch)
	}
	if check && !EqualTrees(in, prob) {
		return xerrors.Errorf("split by prob: %w", ErrTreeMismatch)
	}

	if err := out.ResizeAs(in); err != nil {
		return err
	}
	out.ClearTrees()

	forEachBlock(in.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		itree := &in.trees[gridIdx]
		otree := &out.trees[gridIdx]
		p := prob.BlockData(gridIdx)

		if !itree.IsSet(0) {
			if p[itree.DataIndex(0, 1)] >= thr {
				otree.Set(0)
			}
			return
		}

		otree.Set(0)
		for b1 := firstL1Bit; b1 < firstL2Bit; b1++ {
			if !itree.IsSet(b1) {
				if p[itree.DataIndex(b1, 1)] >= thr {
					otree.Set(b1)
				}
				continue
			}

			otree.Set(b1)
			c := ChildBitIndex(b1)
			for b2 := c; b2 < c+8; b2++ {
				if !itree.IsSet(b2) {
					if p[itree.DataIndex(b2, 1)] >= thr {
						otree.Set(b2)
					}
				} else {
					otree.Set(b2)
				}
			}
		}
	})

	return finishSplit("split by prob", in, out, cfg)
}

// equalPrefixLeafs reports whether a and b distribute their leafs over the
// blocks in the same way.
func equalPrefixLeafs(a, b *Grid) bool {
	for i := 0; i <= a.NumBlocks(); i++ {
		if a.prefixLeafs[i] != b.prefixLeafs[i] {
			return false
		}
	}
	return true
}

// SplitFull refines every block of in down to single voxels.
func SplitFull(in, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if out == in {
		return xerrors.Errorf("split full: %w", ErrAliasedGrid)
	}
	if err := out.ResizeAs(in); err != nil {
		return err
	}
	for i := range out.trees {
		out.trees[i].SetFull()
	}
	return finishSplit("split full", in, out, cfg)
}

// SplitReconstructionSurface refines in where a reconstruction changes its
// binarized state. rec has exactly half the block-grid resolution of in
// along every axis and one feature. For every leaf of in above the finest depth the state of the
// corresponding rec cell (prob > thr) is compared with the rec cells along
// its six faces; on any difference the whole block of in is split to single
// voxels. Probes outside rec never cause a split.
func SplitReconstructionSurface(in, rec *Grid, thr float32, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if rec.featureSize != 1 {
		return xerrors.Errorf("split reconstruction surface: rec feature size %d != 1: %w", rec.featureSize, ErrInvalidFeatureSize)
	}
	if in.n != rec.n || in.gridDepth != 2*rec.gridDepth || in.gridHeight != 2*rec.gridHeight || in.gridWidth != 2*rec.gridWidth {
		return xerrors.Errorf("split reconstruction surface: %s vs %s: %w", in, rec, ErrShapeMismatch)
	}
	if out == in || out == rec {
		return xerrors.Errorf("split reconstruction surface: %w", ErrAliasedGrid)
	}

	if err := out.ResizeAs(in); err != nil {
		return err
	}
	out.CopyTrees(in)

	forEachBlock(in.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		in.trees[gridIdx].forEachLeaf(func(bitIdx, _ int) bool {
			n, d, h, w, depth := in.DenseIndex(gridIdx, bitIdx)
			if depth == MaxDepth {
				return true
			}
			if surfaceChanges(rec, n, d/2, h/2, w/2, thr) {
				out.trees[gridIdx].SetFull()
				return false
			}
			return true
		})
	})

	return finishSplit("split reconstruction surface", in, out, cfg)
}

// surfaceChanges reports whether any rec cell adjacent to a face of the rec
// cell containing voxel (ds, hs, ws) has a different binarized state. Each
// face is scanned in Z-order, skipping over the voxels of probed cells.
func surfaceChanges(rec *Grid, n, ds, hs, ws int, thr float32) bool {
	_, bitIdx, dataIdx := rec.VoxelLeaf(n, ds, hs, ws)
	state := rec.data[dataIdx] > thr
	width := WidthFromDepth(DepthFromBitIndex(bitIdx))
	area := width * width

	for axis := 0; axis < 3; axis++ {
		for side := 0; side < 2; side++ {
			off := side*(width+1) - 1
			for z := 0; z < area; {
				e1, e2 := zCurveX(z), zCurveY(z)
				var d, h, w int
				switch axis {
				case 0:
					d, h, w = ds+off, hs+e1, ws+e2
				case 1:
					d, h, w = ds+e1, hs+off, ws+e2
				default:
					d, h, w = ds+e2, hs+e1, ws+off
				}
				if !rec.InBounds(d, h, w) {
					z++
					continue
				}

				_, probeBit, probeIdx := rec.VoxelLeaf(n, d, h, w)
				if (rec.data[probeIdx] > thr) != state {
					return true
				}
				cnt := WidthFromDepth(DepthFromBitIndex(probeBit))
				z += min(area-z, cnt*cnt)
			}
		}
	}
	return false
}

// finishSplit rebuilds the leaf index of out after its trees were rewritten
// and broadcasts the values of in into the new leaves.
func finishSplit(op string, in, out *Grid, cfg *config) error {
	out.RebuildIndex()
	copySupToSub(in, out, cfg.workers)
	log.Debugw(op, "blocks", in.NumBlocks(), "leafsBefore", in.nLeafs, "leafsAfter", out.nLeafs)
	return cfg.postcheck(op, out)
}

// SplitBackward sums the gradients of the refined grid gradOut back into
// the structure of in, the adjoint of the broadcast done by the splits.
func SplitBackward(in, gradOut, gradIn *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if !SameShape(in, gradOut) {
		return xerrors.Errorf("split backward: %s vs %s: %w", in, gradOut, ErrShapeMismatch)
	}
	if gradIn == in || gradIn == gradOut {
		return xerrors.Errorf("split backward: %w", ErrAliasedGrid)
	}
	if err := gradIn.CopyStructure(in); err != nil {
		return err
	}
	copySubToSupSum(gradOut, gradIn, cfg.workers)
	return cfg.postcheck("split backward", gradIn)
}
