package octgrid

import "sort"

// GridIndex maps a batch index and block coordinates to a block index.
func (g *Grid) GridIndex(n, bd, bh, bw int) int {
	return ((n*g.gridDepth+bd)*g.gridHeight+bh)*g.gridWidth + bw
}

// BlockCoords is the inverse of GridIndex.
func (g *Grid) BlockCoords(gridIdx int) (n, bd, bh, bw int) {
	bw = gridIdx % g.gridWidth
	gridIdx /= g.gridWidth
	bh = gridIdx % g.gridHeight
	gridIdx /= g.gridHeight
	bd = gridIdx % g.gridDepth
	n = gridIdx / g.gridDepth
	return n, bd, bh, bw
}

// LeafIndexToGridIndex returns the block that owns a global leaf index.
func (g *Grid) LeafIndexToGridIndex(leafIdx int) int {
	nBlocks := g.NumBlocks()
	return sort.Search(nBlocks, func(i int) bool {
		return g.prefixLeafs[i+1] > leafIdx
	})
}

// LeafBitIndex returns the block and bit index of a global leaf index.
func (g *Grid) LeafBitIndex(leafIdx int) (gridIdx, bitIdx int) {
	gridIdx = g.LeafIndexToGridIndex(leafIdx)
	bitIdx = g.trees[gridIdx].BitIndexFromDataIndex(leafIdx - g.prefixLeafs[gridIdx])
	return gridIdx, bitIdx
}

// DenseIndex returns the batch index and the absolute voxel corner of the
// node with the given bit index in a block, along with the node's depth.
func (g *Grid) DenseIndex(gridIdx, bitIdx int) (n, d, h, w, depth int) {
	n, bd, bh, bw := g.BlockCoords(gridIdx)
	cd, ch, cw := CellOffset(bitIdx)
	return n, bd*BlockWidth + cd, bh*BlockWidth + ch, bw*BlockWidth + cw, DepthFromBitIndex(bitIdx)
}

// DenseDims returns the full-resolution voxel dimensions of one batch entry.
func (g *Grid) DenseDims() (depth, height, width int) {
	return g.gridDepth * BlockWidth, g.gridHeight * BlockWidth, g.gridWidth * BlockWidth
}

// InBounds reports whether an absolute voxel position lies inside the grid.
func (g *Grid) InBounds(d, h, w int) bool {
	dd, dh, dw := g.DenseDims()
	return d >= 0 && h >= 0 && w >= 0 && d < dd && h < dh && w < dw
}

// VoxelLeaf returns the block, bit index and feature offset into Data of
// the leaf covering the absolute voxel (n, d, h, w).
func (g *Grid) VoxelLeaf(n, d, h, w int) (gridIdx, bitIdx, dataIdx int) {
	gridIdx = g.GridIndex(n, d/BlockWidth, h/BlockWidth, w/BlockWidth)
	t := &g.trees[gridIdx]
	bitIdx = t.BitIndex(d%BlockWidth, h%BlockWidth, w%BlockWidth)
	dataIdx = g.prefixLeafs[gridIdx]*g.featureSize + t.DataIndex(bitIdx, g.featureSize)
	return gridIdx, bitIdx, dataIdx
}

// NumVoxels is the number of full-resolution voxels over the whole batch.
func (g *Grid) NumVoxels() int {
	return g.NumBlocks() * BlockVoxels
}
