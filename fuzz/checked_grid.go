package fuzzer

import (
	"context"
	"fmt"

	cbor "github.com/ipfs/go-ipld-cbor"

	octgrid "github.com/octgrid/go-octgrid"
)

const (
	gridDepth  = 2
	gridHeight = 1
	gridWidth  = 1
)

// checkedGrid mirrors a single-channel grid in a dense voxel array and
// panics as soon as the two disagree.
type checkedGrid struct {
	grid *octgrid.Grid
	step uint64
	bs   cbor.IpldStore

	dense []float32
}

func newCheckedGrid() (*checkedGrid, error) {
	g := octgrid.NewGrid()
	if err := g.Resize(1, gridDepth, gridHeight, gridWidth, 1, 0); err != nil {
		return nil, err
	}
	g.ClearTrees()
	g.RebuildIndex()
	g.FillData(0)
	return &checkedGrid{
		grid:  g,
		bs:    cbor.NewCborStore(newMockBlocks()),
		dense: make([]float32, g.NumVoxels()),
	}, nil
}

func (c *checkedGrid) leaf(key uint16) int {
	return int(key) % c.grid.NumLeafs()
}

func (c *checkedGrid) set(key uint16, value float32) {
	leaf := c.leaf(key)
	c.trace("set leaf %d to %v", leaf, value)
	c.grid.Data()[leaf] = value

	gridIdx, bitIdx := c.grid.LeafBitIndex(leaf)
	_, d0, h0, w0, depth := c.grid.DenseIndex(gridIdx, bitIdx)
	_, dh, dw := c.grid.DenseDims()
	width := octgrid.WidthFromDepth(depth)
	for d := d0; d < d0+width; d++ {
		for h := h0; h < h0+width; h++ {
			for w := w0; w < w0+width; w++ {
				c.dense[(d*dh+h)*dw+w] = value
			}
		}
	}
}

func (c *checkedGrid) split(key uint16) {
	leaf := c.leaf(key)
	c.trace("split leaf %d", leaf)
	prob := octgrid.NewGrid()
	c.checkErr(prob.CopyStructure(c.grid))
	prob.FillData(0)
	prob.Data()[leaf] = 1
	c.replace(prob, 1)
}

func (c *checkedGrid) splitByValue(thr float32) {
	c.trace("split where value >= %v", thr)
	c.replace(c.grid, thr)
}

func (c *checkedGrid) replace(prob *octgrid.Grid, thr float32) {
	out := octgrid.NewGrid()
	c.checkErr(octgrid.SplitByProb(c.grid, prob, thr, true, out, octgrid.UseValidation(true)))
	if out.NumLeafs() < c.grid.NumLeafs() {
		c.fail("split lost leafs: %d < %d", out.NumLeafs(), c.grid.NumLeafs())
	}
	for i := 0; i < c.grid.NumBlocks(); i++ {
		in, got := c.grid.Tree(i), out.Tree(i)
		for b := 0; b < octgrid.TreeBits; b++ {
			if in.IsSet(b) && !got.IsSet(b) {
				c.fail("split removed bit %d of block %d", b, i)
			}
		}
	}
	c.grid = out
}

func (c *checkedGrid) norm() {
	c.trace("norm")
	out := octgrid.NewGrid()
	avgs, vars := make([]float32, 1), make([]float32, 1)
	c.checkErr(octgrid.BNNorm(c.grid, avgs, vars, out))
	c.checkErr(octgrid.CheckFinite(out, "normalized"))
	if !octgrid.EqualTrees(c.grid, out) {
		c.fail("norm changed the tree structure")
	}
	if vars[0] < 0 {
		c.fail("negative variance %v", vars[0])
	}
}

func (c *checkedGrid) flush() {
	c.trace("flush")
	c1, err := c.grid.Flush(context.Background(), c.bs)
	c.checkErr(err)
	c2, err := c.grid.Flush(context.Background(), c.bs)
	c.checkErr(err)
	if c1 != c2 {
		c.fail("cids don't match %s != %s", c1, c2)
	}
}

func (c *checkedGrid) reload() {
	c.trace("reload")
	root, err := c.grid.Flush(context.Background(), c.bs)
	c.checkErr(err)
	c.grid, err = octgrid.LoadGrid(context.Background(), c.bs, root, octgrid.UseValidation(true))
	c.checkErr(err)
}

func (c *checkedGrid) diff() {
	c.trace("diff")
	root, err := c.grid.Flush(context.Background(), c.bs)
	c.checkErr(err)
	changes, err := octgrid.Diff(context.Background(), c.bs, c.bs, root, root)
	c.checkErr(err)
	if len(changes) != 0 {
		c.fail("diff of a grid with itself: %v", changes)
	}
}

func (c *checkedGrid) trace(msg string, args ...interface{}) {
	c.step++
	if Debug {
		fmt.Printf("step %d: "+msg+"\n", append([]interface{}{c.step}, args...)...)
	}
}

func (c *checkedGrid) check() {
	c.checkErr(c.grid.Validate())
	c.checkDense(c.grid)

	root, err := c.grid.Flush(context.Background(), c.bs)
	c.checkErr(err)
	loaded, err := octgrid.LoadGrid(context.Background(), c.bs, root)
	c.checkErr(err)
	if !octgrid.EqualTrees(c.grid, loaded) {
		c.fail("reloaded trees differ")
	}
	c.checkDense(loaded)

	full := octgrid.NewGrid()
	c.checkErr(octgrid.SplitFull(c.grid, full))
	if full.NumLeafs() != full.NumVoxels() {
		c.fail("full split has %d leafs for %d voxels", full.NumLeafs(), full.NumVoxels())
	}
	c.checkDense(full)
}

func (c *checkedGrid) checkDense(g *octgrid.Grid) {
	dense, err := octgrid.ToDense(g)
	c.checkErr(err)
	if len(dense) != len(c.dense) {
		c.fail("dense length %d, expected %d", len(dense), len(c.dense))
	}
	for i := range dense {
		if dense[i] != c.dense[i] {
			c.fail("voxel %d: expected %v, got %v", i, c.dense[i], dense[i])
		}
	}
}

func (c *checkedGrid) checkErr(e error) {
	if e != nil {
		c.fail(e.Error())
	}
}

func (c *checkedGrid) fail(msg string, args ...interface{}) {
	panic(fmt.Sprintf("step %d: "+msg, append([]interface{}{c.step}, args...)...))
}
