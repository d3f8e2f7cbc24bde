package octgrid

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDenseSingleVoxel(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		dense := make([]float32, 8*8*8)
		dense[(3*8+5)*8+6] = 1
		dense[0] = 7

		g, err := FromDense(dense, 8, 8, 8, [][2]float32{{0.5, 1.5}}, opts...)
		require.NoError(t, err)
		require.NoError(t, g.Validate())

		tr := g.Tree(0)
		assert.True(t, tr.IsSet(0))
		assert.True(t, tr.IsSet(4))
		assert.True(t, tr.IsSet(38))
		assert.Equal(t, 3, tr.NumSplits())
		assert.Equal(t, 22, g.NumLeafs())

		out, err := ToDense(g, opts...)
		require.NoError(t, err)
		want := make([]float32, len(dense))
		want[(3*8+5)*8+6] = 1
		assert.Equal(t, want, out)
	})
}

func TestFromDenseEmpty(t *testing.T) {
	g, err := FromDense(make([]float32, 5*9*3), 5, 9, 3, [][2]float32{{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, 1, g.GridDepth())
	assert.Equal(t, 2, g.GridHeight())
	assert.Equal(t, 1, g.GridWidth())
	assert.Equal(t, 2, g.NumLeafs())
	assert.Equal(t, []float32{0, 0}, g.Data())
}

func TestFromDenseFeaturesRoundTrip(t *testing.T) {
	runTestWithWorkers(t, func(t *testing.T, opts ...Option) {
		r := rand.New(rand.NewSource(13))
		const d, h, w, fs = 16, 8, 8, 3
		dense := make([]float32, d*h*w*fs)
		for i := 0; i < 20; i++ {
			v := r.Intn(d * h * w)
			for c := 0; c < fs; c++ {
				dense[v*fs+c] = r.Float32() + 0.1
			}
		}

		g, err := FromDenseFeatures(dense, d, h, w, fs, append(opts, UseValidation(true))...)
		require.NoError(t, err)
		assert.Equal(t, 2, g.NumBlocks())

		out, err := ToDense(g, opts...)
		require.NoError(t, err)
		assert.Equal(t, dense, out)
	})
}

func TestFromDenseFeaturesBatch(t *testing.T) {
	const d, h, w, fs = 8, 8, 16, 2
	r := rand.New(rand.NewSource(14))
	dense := make([]float32, 3*d*h*w*fs)
	for i := 0; i < 40; i++ {
		dense[r.Intn(len(dense))] = r.Float32() - 0.5
	}

	g, err := FromDenseFeaturesBatch(dense, 3, d, h, w, fs)
	require.NoError(t, err)
	assert.Equal(t, 3, g.N())

	vol := d * h * w * fs
	for n := 0; n < 3; n++ {
		single, err := FromDenseFeatures(dense[n*vol:(n+1)*vol], d, h, w, fs)
		require.NoError(t, err)
		part := NewGrid()
		require.NoError(t, ExtractN(g, n, n+1, part))
		require.True(t, EqualTrees(single, part), "entry %d", n)
		require.Equal(t, single.Data(), part.Data(), "entry %d", n)
	}

	out, err := ToDense(g)
	require.NoError(t, err)
	assert.Equal(t, dense, out)

	occ, err := FromDenseBatch(make([]float32, 2*d*h*w), 2, d, h, w, [][2]float32{{0.5, 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, occ.N())
	assert.Equal(t, occ.NumBlocks(), occ.NumLeafs())
}

func TestCreateCallsSamplerOncePerLeaf(t *testing.T) {
	var calls int64
	occ := func(r Region) bool {
		return r.N == 1 && r.D == 0 && r.H == 0 && r.W == 0
	}
	sample := func(r Region, occupied bool, dst []float32) {
		atomic.AddInt64(&calls, 1)
		dst[0] = float32(r.Width)
		if occupied {
			dst[1] = 1
		}
	}
	g, err := Create(2, 1, 2, 1, 2, occ, sample, UseWorkers(4))
	require.NoError(t, err)
	assert.Equal(t, int64(g.NumLeafs()), calls)

	// only the corner chain of batch entry 1 is refined
	assert.Equal(t, 3+7+7+8, g.NumLeafs())
	gridIdx, bitIdx, dataIdx := g.VoxelLeaf(1, 0, 0, 0)
	assert.Equal(t, 2, gridIdx)
	assert.Equal(t, 73, bitIdx)
	assert.Equal(t, float32(1), g.Data()[dataIdx])
	assert.Equal(t, float32(1), g.Data()[dataIdx+1])
}

func TestCreateErrors(t *testing.T) {
	_, err := FromDense(make([]float32, 10), 2, 2, 2, nil)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = FromDenseFeatures(nil, 2, 2, 2, 0)
	require.ErrorIs(t, err, ErrInvalidFeatureSize)

	_, err = FromDenseFeatures(nil, 0, 2, 2, 1)
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = FromDenseFeaturesBatch(make([]float32, 8), 3, 1, 1, 1, 2)
	require.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Create(1, 1, 1, 1, 1, nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
