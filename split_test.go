package octgrid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constProb(t testing.TB, in *Grid, v float32) *Grid {
	p := NewGrid()
	require.NoError(t, p.Resize(in.N(), in.GridDepth(), in.GridHeight(), in.GridWidth(), 1, in.NumLeafs()))
	p.CopyTrees(in)
	p.CopyPrefixLeafs(in)
	p.FillData(v)
	return p
}

func requireSameDense(t *testing.T, a, b *Grid) {
	t.Helper()
	da, err := ToDense(a)
	require.NoError(t, err)
	db, err := ToDense(b)
	require.NoError(t, err)
	require.Equal(t, da, db)
}

func TestSplitFull(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		r := rand.New(rand.NewSource(1))
		in := randGrid(t, r, 2, 2, 1, 3, 3, [3]float64{0.5, 0.5, 0.5})
		out := NewGrid()
		require.NoError(t, SplitFull(in, out, append(opts, UseValidation(true))...))

		assert.Equal(t, in.NumBlocks()*BlockVoxels, out.NumLeafs())
		for i := 0; i < out.NumBlocks(); i++ {
			require.Equal(t, fullTree, *out.Tree(i))
		}
		requireSameDense(t, in, out)
	})
}

func TestSplitByProbKeepsStructureBelowThreshold(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		r := rand.New(rand.NewSource(2))
		in := randGrid(t, r, 2, 2, 2, 2, 2, [3]float64{0.6, 0.4, 0.3})
		prob := constProb(t, in, 0.2)

		out := NewGrid()
		require.NoError(t, SplitByProb(in, prob, 0.5, true, out, opts...))
		require.True(t, EqualTrees(in, out))
		require.Equal(t, in.PrefixLeafs(), out.PrefixLeafs())
		require.Equal(t, in.Data(), out.Data())
	})
}

func TestSplitByProbThresholdInclusive(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		in := newTestBNGrid(t)
		prob := constProb(t, in, 0.5)

		out := NewGrid()
		require.NoError(t, SplitByProb(in, prob, 0.5, true, out, opts...))
		require.NoError(t, out.Validate())

		// every depth-1 and depth-2 leaf is refined once
		for b := firstL1Bit; b < firstL2Bit; b++ {
			assert.True(t, out.Tree(0).IsSet(b))
			assert.True(t, out.Tree(1).IsSet(b))
		}
		assert.False(t, out.Tree(0).IsSet(firstL2Bit))
		for b := firstL2Bit; b < firstL3Bit; b++ {
			assert.Equal(t, ParentBitIndex(b) == 1, out.Tree(1).IsSet(b), "bit %d", b)
		}
		assert.Equal(t, 8*8+7*8+8*8, out.NumLeafs())
		requireSameDense(t, in, out)
	})
}

func TestSplitByProbMonotonic(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		r := rand.New(rand.NewSource(3))
		in := randGrid(t, r, 1, 3, 2, 2, 1, [3]float64{0.7, 0.5, 0.3})
		prob := in.Clone()
		for i := range prob.Data() {
			prob.Data()[i] = r.Float32()
		}

		out := NewGrid()
		require.NoError(t, SplitByProb(in, prob, 0.6, true, out, opts...))
		changes, err := DiffTrees(in, out, opts...)
		require.NoError(t, err)
		for _, ch := range changes {
			require.Equal(t, Split, ch.Type, ch.String())
		}
		requireSameDense(t, in, out)

		// a node is refined iff its probability reaches the threshold
		for gridIdx := 0; gridIdx < in.NumBlocks(); gridIdx++ {
			p := prob.BlockData(gridIdx)
			in.Tree(gridIdx).ForEachLeaf(func(bitIdx, leafIdx int) {
				if bitIdx >= firstL3Bit {
					return
				}
				require.Equal(t, p[leafIdx] >= 0.6, out.Tree(gridIdx).IsSet(bitIdx))
			})
		}
	})
}

func TestSplitByProbErrorsLeaveOutputUntouched(t *testing.T) {
	in := newTestBNGrid(t)
	out := newTestBNGridValue(t, 7)
	before := out.Clone()

	wide := newTestBNGrid(t)
	err := SplitByProb(in, wide, 0.5, false, out)
	require.ErrorIs(t, err, ErrInvalidFeatureSize)

	moved := constProb(t, in, 1)
	moved.Tree(1).Unset(9)
	moved.Tree(1).Set(10)
	err = SplitByProb(in, moved, 0.5, true, out)
	require.ErrorIs(t, err, ErrTreeMismatch)

	other := NewGrid()
	require.NoError(t, other.Resize(3, 1, 1, 1, 1, 3))
	err = SplitByProb(in, other, 0.5, false, out)
	require.ErrorIs(t, err, ErrShapeMismatch)

	err = SplitByProb(in, constProb(t, in, 1), 0.5, false, in)
	require.ErrorIs(t, err, ErrAliasedGrid)

	require.True(t, EqualTrees(before, out))
	require.Equal(t, before.Data(), out.Data())
	require.Equal(t, before.NumLeafs(), out.NumLeafs())
}

func TestSplitBackwardIsAdjoint(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		r := rand.New(rand.NewSource(4))
		in := randGrid(t, r, 2, 1, 2, 2, 2, [3]float64{0.7, 0.5, 0.5})
		prob := in.Clone()
		for i := range prob.Data() {
			prob.Data()[i] = r.Float32()
		}
		prob1 := NewGrid()
		require.NoError(t, ExtractFeature(prob, 0, 1, prob1))

		out := NewGrid()
		require.NoError(t, SplitByProb(in, prob1, 0.5, true, out, opts...))

		gradOut := out.Clone()
		for i := range gradOut.Data() {
			gradOut.Data()[i] = r.Float32()*2 - 1
		}
		gradIn := NewGrid()
		require.NoError(t, SplitBackward(in, gradOut, gradIn, opts...))
		require.True(t, EqualTrees(in, gradIn))

		assert.InDelta(t, dot(out.Data(), gradOut.Data()), dot(in.Data(), gradIn.Data()), 1e-2)
		assert.InDelta(t, sum(gradOut.Data()), sum(gradIn.Data()), 1e-2)
	})
}

// newSurfaceGrids returns a 2x2x2-block grid of unsplit blocks and a
// single-block reconstruction whose root is split, with only the depth-1
// cell at bit 2 above the threshold.
func newSurfaceGrids(t testing.TB) (in, rec *Grid) {
	in = NewGrid()
	require.NoError(t, in.Resize(1, 2, 2, 2, 3, 0))
	in.ClearTrees()
	in.RebuildIndex()
	for i := range in.Data() {
		in.Data()[i] = float32(i)
	}

	rec = NewGrid()
	require.NoError(t, rec.Resize(1, 1, 1, 1, 1, 0))
	rec.ClearTrees()
	rec.Tree(0).Set(0)
	rec.RebuildIndex()
	rec.FillData(0.1)
	rec.Data()[rec.Tree(0).DataIndex(2, 1)] = 0.9
	return in, rec
}

func TestSplitReconstructionSurface(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		in, rec := newSurfaceGrids(t)
		out := NewGrid()
		require.NoError(t, SplitReconstructionSurface(in, rec, 0.5, out, append(opts, UseValidation(true))...))

		// bit 2 and its face neighbours at bits 1, 4 and 6 map to blocks 1, 0, 3 and 5
		for gridIdx := 0; gridIdx < out.NumBlocks(); gridIdx++ {
			switch gridIdx {
			case 0, 1, 3, 5:
				require.Equal(t, fullTree, *out.Tree(gridIdx), "block %d", gridIdx)
			default:
				require.Equal(t, 1, out.Tree(gridIdx).NumLeafs(), "block %d", gridIdx)
			}
		}
		assert.Equal(t, 4*BlockVoxels+4, out.NumLeafs())
		requireSameDense(t, in, out)
	})
}

func TestSplitReconstructionSurfaceUniform(t *testing.T) {
	in, rec := newSurfaceGrids(t)
	rec.FillData(0.9)
	out := NewGrid()
	require.NoError(t, SplitReconstructionSurface(in, rec, 0.5, out))
	require.True(t, EqualTrees(in, out))

	// the threshold is exclusive
	rec.FillData(0.5)
	rec.Data()[0] = 0.6
	require.NoError(t, SplitReconstructionSurface(in, rec, 0.5, out))
	require.Equal(t, fullTree, *out.Tree(0))
	require.Equal(t, fullTree, *out.Tree(1))
}

func TestSplitReconstructionSurfaceErrors(t *testing.T) {
	in, rec := newSurfaceGrids(t)
	out := NewGrid()

	wide := NewGrid()
	require.NoError(t, wide.Resize(1, 1, 1, 1, 2, 1))
	wide.RebuildIndex()
	err := SplitReconstructionSurface(in, wide, 0.5, out)
	require.ErrorIs(t, err, ErrInvalidFeatureSize)

	err = SplitReconstructionSurface(rec, rec, 0.5, out)
	require.ErrorIs(t, err, ErrShapeMismatch)

	err = SplitReconstructionSurface(in, rec, 0.5, in)
	require.ErrorIs(t, err, ErrAliasedGrid)
	assert.Equal(t, 0, out.NumBlocks())
}

func TestSplitReconstructionSurfaceOddGrid(t *testing.T) {
	_, rec := newSurfaceGrids(t)
	in := NewGrid()
	require.NoError(t, in.Resize(1, 3, 2, 2, 1, 0))
	in.ClearTrees()
	in.RebuildIndex()
	in.FillData(1)

	out := newTestBNGridValue(t, 7)
	before := out.Clone()
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		err := SplitReconstructionSurface(in, rec, 0.5, out, opts...)
		require.ErrorIs(t, err, ErrShapeMismatch)
		require.True(t, EqualTrees(before, out))
		require.Equal(t, before.Data(), out.Data())
	})
}

func TestSplitByProbLeafLayoutMismatch(t *testing.T) {
	in := newTestBNGrid(t)
	swapped := constProb(t, in, 1)
	t0 := *swapped.Tree(0)
	*swapped.Tree(0) = *swapped.Tree(1)
	*swapped.Tree(1) = t0
	swapped.RebuildIndex()
	require.NoError(t, swapped.Validate())
	require.Equal(t, in.NumLeafs(), swapped.NumLeafs())

	out := NewGrid()
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		err := SplitByProb(in, swapped, 0.5, false, out, opts...)
		require.ErrorIs(t, err, ErrShapeMismatch)
		assert.Equal(t, 0, out.NumBlocks())
	})
}
