package octgrid

import (
	"golang.org/x/xerrors"
)

func checkSupSub(sup, sub *Grid) error {
	if !SameShape(sup, sub) {
		return xerrors.Errorf("%s vs %s: %w", sup, sub, ErrShapeMismatch)
	}
	return nil
}

// CopySupToSub broadcasts the values of the coarser grid sup into the leaves
// of sub. Each leaf of sub receives the values of the sup leaf covering its
// corner voxel. sub keeps its own structure.
func CopySupToSub(sup, sub *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkSupSub(sup, sub); err != nil {
		return xerrors.Errorf("copy sup to sub: %w", err)
	}
	copySupToSub(sup, sub, cfg.workers)
	return nil
}

func copySupToSub(sup, sub *Grid, workers int) {
	channels := sub.featureSize
	forEachBlock(sub.NumBlocks(), workers, func(_, gridIdx int) {
		supTree := &sup.trees[gridIdx]
		supData := sup.BlockData(gridIdx)
		subData := sub.BlockData(gridIdx)
		sub.trees[gridIdx].ForEachLeaf(func(bitIdx, leafIdx int) {
			bd, bh, bw := CellOffset(bitIdx)
			supIdx := supTree.DataIndex(supTree.BitIndex(bd, bh, bw), channels)
			copy(subData[leafIdx*channels:(leafIdx+1)*channels], supData[supIdx:supIdx+channels])
		})
	})
}

// CopySubToSupSum is the adjoint of CopySupToSub: every leaf of sup receives
// the sum of the values of all sub leaves whose corner it covers. The data
// of sup is overwritten; its structure is kept.
func CopySubToSupSum(sub, sup *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkSupSub(sup, sub); err != nil {
		return xerrors.Errorf("copy sub to sup sum: %w", err)
	}
	copySubToSupSum(sub, sup, cfg.workers)
	return nil
}

func copySubToSupSum(sub, sup *Grid, workers int) {
	channels := sub.featureSize
	forEachBlock(sub.NumBlocks(), workers, func(_, gridIdx int) {
		supTree := &sup.trees[gridIdx]
		supData := sup.BlockData(gridIdx)
		for i := range supData {
			supData[i] = 0
		}
		subData := sub.BlockData(gridIdx)
		sub.trees[gridIdx].ForEachLeaf(func(bitIdx, leafIdx int) {
			bd, bh, bw := CellOffset(bitIdx)
			supIdx := supTree.DataIndex(supTree.BitIndex(bd, bh, bw), channels)
			for c := 0; c < channels; c++ {
				supData[supIdx+c] += subData[leafIdx*channels+c]
			}
		})
	})
}
