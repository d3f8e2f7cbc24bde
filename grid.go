package octgrid

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Grid is a batch of shallow octrees laid out as an n x gd x gh x gw array
// of blocks. Leaf features are stored densely by leaf, not by voxel: the
// features of leaf l of block b start at (prefixLeafs[b] + l) * featureSize.
type Grid struct {
	n           int
	gridDepth   int
	gridHeight  int
	gridWidth   int
	featureSize int
	nLeafs      int

	trees       []Tree
	prefixLeafs []int
	data        []float32
}

// NewGrid returns an empty grid without storage.
func NewGrid() *Grid {
	return &Grid{}
}

// Resize sets the logical dimensions of the grid. Tree, prefix and data
// storage is only reallocated when the requested size exceeds the current
// capacity; the contents of reused storage are left as they are.
func (g *Grid) Resize(n, gridDepth, gridHeight, gridWidth, featureSize, nLeafs int) error {
	if n < 0 || gridDepth < 0 || gridHeight < 0 || gridWidth < 0 || featureSize < 0 || nLeafs < 0 {
		return xerrors.Errorf("resize to (%d, %d, %d, %d, %d, %d): %w",
			n, gridDepth, gridHeight, gridWidth, featureSize, nLeafs, ErrInvalidArgument)
	}
	g.n = n
	g.gridDepth = gridDepth
	g.gridHeight = gridHeight
	g.gridWidth = gridWidth
	g.featureSize = featureSize
	g.nLeafs = nLeafs

	nBlocks := g.NumBlocks()
	g.trees = growTrees(g.trees, nBlocks)
	g.prefixLeafs = growInts(g.prefixLeafs, nBlocks+1)
	g.data = growFloats(g.data, nLeafs*featureSize)
	return nil
}

// ResizeAs matches the dimensions and leaf count of ref.
func (g *Grid) ResizeAs(ref *Grid) error {
	return g.Resize(ref.n, ref.gridDepth, ref.gridHeight, ref.gridWidth, ref.featureSize, ref.nLeafs)
}

func growTrees(s []Tree, n int) []Tree {
	if cap(s) < n {
		return make([]Tree, n)
	}
	return s[:n]
}

func growInts(s []int, n int) []int {
	if cap(s) < n {
		return make([]int, n)
	}
	return s[:n]
}

func growFloats(s []float32, n int) []float32 {
	if cap(s) < n {
		return make([]float32, n)
	}
	return s[:n]
}

func (g *Grid) N() int           { return g.n }
func (g *Grid) GridDepth() int   { return g.gridDepth }
func (g *Grid) GridHeight() int  { return g.gridHeight }
func (g *Grid) GridWidth() int   { return g.gridWidth }
func (g *Grid) FeatureSize() int { return g.featureSize }
func (g *Grid) NumLeafs() int    { return g.nLeafs }

// NumBlocks is n * gd * gh * gw.
func (g *Grid) NumBlocks() int {
	return g.n * g.gridDepth * g.gridHeight * g.gridWidth
}

// Trees exposes the tree records of all blocks.
func (g *Grid) Trees() []Tree { return g.trees }

// PrefixLeafs exposes the exclusive prefix sum of per-block leaf counts.
func (g *Grid) PrefixLeafs() []int { return g.prefixLeafs }

// Data exposes the flat leaf-data buffer.
func (g *Grid) Data() []float32 { return g.data }

// Tree returns the tree record of a block.
func (g *Grid) Tree(gridIdx int) *Tree {
	return &g.trees[gridIdx]
}

// BlockData returns the leaf data owned by a block.
func (g *Grid) BlockData(gridIdx int) []float32 {
	lo := g.prefixLeafs[gridIdx] * g.featureSize
	hi := g.prefixLeafs[gridIdx+1] * g.featureSize
	return g.data[lo:hi:hi]
}

// ClearTrees removes every split of every block.
func (g *Grid) ClearTrees() {
	for i := range g.trees {
		g.trees[i].Clear()
	}
}

// FillData sets every leaf value to v.
func (g *Grid) FillData(v float32) {
	for i := range g.data {
		g.data[i] = v
	}
}

// UpdateNumLeafs recomputes the total leaf count from the tree bits.
func (g *Grid) UpdateNumLeafs() {
	n := 0
	for i := range g.trees {
		n += g.trees[i].NumLeafs()
	}
	g.nLeafs = n
}

// UpdatePrefixLeafs recomputes the exclusive prefix sum of per-block leaf counts.
func (g *Grid) UpdatePrefixLeafs() {
	g.prefixLeafs[0] = 0
	for i := range g.trees {
		g.prefixLeafs[i+1] = g.prefixLeafs[i] + g.trees[i].NumLeafs()
	}
}

// RebuildIndex recomputes leaf count and prefix sums after the trees were
// edited and resizes the data buffer to match.
func (g *Grid) RebuildIndex() {
	g.UpdateNumLeafs()
	g.data = growFloats(g.data, g.nLeafs*g.featureSize)
	g.UpdatePrefixLeafs()
}

// CopyScalars copies dimensions, feature size and leaf count from src.
func (g *Grid) CopyScalars(src *Grid) {
	g.n = src.n
	g.gridDepth = src.gridDepth
	g.gridHeight = src.gridHeight
	g.gridWidth = src.gridWidth
	g.featureSize = src.featureSize
	g.nLeafs = src.nLeafs
}

// CopyTrees copies the tree records of src. Both grids need the same block count.
func (g *Grid) CopyTrees(src *Grid) {
	copy(g.trees, src.trees[:src.NumBlocks()])
}

// CopyPrefixLeafs copies the prefix leaf counts of src.
func (g *Grid) CopyPrefixLeafs(src *Grid) {
	copy(g.prefixLeafs, src.prefixLeafs[:src.NumBlocks()+1])
}

// CopyStructure turns g into a grid with the shape, trees and leaf layout
// of src without touching values beyond resizing.
func (g *Grid) CopyStructure(src *Grid) error {
	if g == src {
		return nil
	}
	if err := g.ResizeAs(src); err != nil {
		return err
	}
	g.CopyTrees(src)
	g.CopyPrefixLeafs(src)
	return nil
}

// Clone returns a deep copy of the logical contents of g.
func (g *Grid) Clone() *Grid {
	c := NewGrid()
	_ = c.CopyStructure(g)
	copy(c.data, g.data)
	return c
}

// SameShape reports whether two grids have equal batch size, block-grid
// dimensions and feature size.
func SameShape(a, b *Grid) bool {
	return a.n == b.n && a.gridDepth == b.gridDepth && a.gridHeight == b.gridHeight &&
		a.gridWidth == b.gridWidth && a.featureSize == b.featureSize
}

// EqualTrees reports whether two grids have the same block count and
// block-for-block identical tree structure.
func EqualTrees(a, b *Grid) bool {
	if a.NumBlocks() != b.NumBlocks() {
		return false
	}
	for i := 0; i < a.NumBlocks(); i++ {
		if !a.trees[i].Equal(&b.trees[i]) {
			return false
		}
	}
	return true
}

// Validate checks that prefix sums, leaf count, data length and tree bits
// are mutually consistent.
func (g *Grid) Validate() error {
	nBlocks := g.NumBlocks()
	if len(g.trees) != nBlocks || len(g.prefixLeafs) != nBlocks+1 {
		return xerrors.Errorf("%d blocks but %d trees and %d prefix entries: %w",
			nBlocks, len(g.trees), len(g.prefixLeafs), ErrCorruptGrid)
	}
	if g.prefixLeafs[0] != 0 {
		return xerrors.Errorf("prefix leaf count starts at %d: %w", g.prefixLeafs[0], ErrCorruptGrid)
	}
	for i := range g.trees {
		t := &g.trees[i]
		if got, want := g.prefixLeafs[i+1]-g.prefixLeafs[i], t.NumLeafs(); got != want {
			return xerrors.Errorf("block %d: prefix gives %d leafs, tree encodes %d: %w", i, got, want, ErrCorruptGrid)
		}
		if o := t.Orphans(); len(o) > 0 {
			return xerrors.Errorf("block %d: split bits %v without split parent: %w", i, o, ErrCorruptGrid)
		}
	}
	if g.nLeafs != g.prefixLeafs[nBlocks] {
		return xerrors.Errorf("leaf count %d, prefix total %d: %w", g.nLeafs, g.prefixLeafs[nBlocks], ErrCorruptGrid)
	}
	if len(g.data) != g.nLeafs*g.featureSize {
		return xerrors.Errorf("data length %d, expected %d leafs x %d features: %w",
			len(g.data), g.nLeafs, g.featureSize, ErrCorruptGrid)
	}
	return nil
}

func (g *Grid) String() string {
	return fmt.Sprintf("octgrid.Grid{n: %d, grid: %dx%dx%d, features: %d, leafs: %d}",
		g.n, g.gridDepth, g.gridHeight, g.gridWidth, g.featureSize, g.nLeafs)
}
