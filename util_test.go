package octgrid

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	block "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

var workerCounts = []int{1, 2, 4, 8}

func runTestWithWorkers(t *testing.T, fn func(*testing.T, ...Option)) {
	t.Helper()
	if testing.Short() {
		t.Run("workers=1", func(t *testing.T) { fn(t, UseWorkers(1)) })
		return
	}
	for _, w := range workerCounts {
		w := w
		t.Run(fmt.Sprintf("workers=%d", w), func(t *testing.T) { fn(t, UseWorkers(w)) })
	}
}

func runBenchmarkWithWorkers(b *testing.B, fn func(*testing.B, ...Option)) {
	b.Helper()
	for _, w := range workerCounts {
		w := w
		b.Run(fmt.Sprintf("workers=%d", w), func(b *testing.B) { fn(b, UseWorkers(w)) })
	}
}

type mockBlocks struct {
	data               map[cid.Cid]block.Block
	getCount, putCount int
}

func newMockBlocks() *mockBlocks {
	return &mockBlocks{make(map[cid.Cid]block.Block), 0, 0}
}

func (mb *mockBlocks) Get(ctx context.Context, c cid.Cid) (block.Block, error) {
	d, ok := mb.data[c]
	mb.getCount++
	if ok {
		return d, nil
	}
	return nil, fmt.Errorf("Not Found")
}

func (mb *mockBlocks) Put(ctx context.Context, b block.Block) error {
	mb.putCount++
	mb.data[b.Cid()] = b
	return nil
}

func (mb *mockBlocks) report(b *testing.B) {
	b.ReportMetric(float64(mb.getCount)/float64(b.N), "gets/op")
	b.ReportMetric(float64(mb.putCount)/float64(b.N), "puts/op")
}

// newTestBNStructure returns two 8x8x8 blocks with two channels: block 0 is
// split once at the root, block 1 additionally at bits 1 and 9.
func newTestBNStructure(t testing.TB) *Grid {
	g := NewGrid()
	require.NoError(t, g.Resize(2, 1, 1, 1, 2, 0))
	g.ClearTrees()
	for i := 0; i < g.NumBlocks(); i++ {
		tr := g.Tree(i)
		tr.Set(0)
		if i == 1 {
			tr.Set(1)
			tr.Set(ChildBitIndex(1))
		}
	}
	g.RebuildIndex()
	return g
}

// newTestBNGrid fills the leaf data with 2*leaf + channel.
func newTestBNGrid(t testing.TB) *Grid {
	g := newTestBNStructure(t)
	for l := 0; l < g.NumLeafs(); l++ {
		for c := 0; c < 2; c++ {
			g.Data()[l*2+c] = float32(2*l + c)
		}
	}
	return g
}

func newTestBNGridValue(t testing.TB, v float32) *Grid {
	g := newTestBNStructure(t)
	g.FillData(v)
	return g
}

// randGrid builds a grid whose nodes at depth 0, 1 and 2 are split with the
// given probabilities, filled with values in [-1, 1).
func randGrid(t testing.TB, r *rand.Rand, n, gd, gh, gw, fs int, p [3]float64) *Grid {
	g := NewGrid()
	require.NoError(t, g.Resize(n, gd, gh, gw, fs, 0))
	g.ClearTrees()
	for i := 0; i < g.NumBlocks(); i++ {
		tr := g.Tree(i)
		if r.Float64() >= p[0] {
			continue
		}
		tr.Set(0)
		for b := firstL1Bit; b < firstL3Bit; b++ {
			if tr.IsSet(ParentBitIndex(b)) && r.Float64() < p[DepthFromBitIndex(b)] {
				tr.Set(b)
			}
		}
	}
	g.RebuildIndex()
	for i := range g.Data() {
		g.Data()[i] = r.Float32()*2 - 1
	}
	require.NoError(t, g.Validate())
	return g
}

func requireInDelta(t *testing.T, want, got []float32, delta float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		require.InDelta(t, want[i], got[i], delta, "index %d", i)
	}
}

func dot(a, b []float32) float64 {
	s := 0.0
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func sum(a []float32) float64 {
	s := 0.0
	for _, v := range a {
		s += float64(v)
	}
	return s
}

var nan32 = float32(math.NaN())
