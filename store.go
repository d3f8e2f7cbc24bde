package octgrid

import (
	"context"
	"math"
	"math/bits"

	humanize "github.com/dustin/go-humanize"
	"github.com/golang/snappy"
	cid "github.com/ipfs/go-cid"
	cbor "github.com/ipfs/go-ipld-cbor"
	"golang.org/x/xerrors"

	"github.com/octgrid/go-octgrid/internal"
)

// treesPerChunk is the number of tree records stored in one chunk.
const treesPerChunk = 4096

// maxDim bounds each persisted dimension so a corrupt root cannot request
// an unbounded allocation.
const maxDim = math.MaxInt32

// Flush writes the grid to bs and returns the CID of its root. Trees and leaf
// data are split into chunks, snappy-compressed and stored as separate
// blocks; the root links them in order.
func (g *Grid) Flush(ctx context.Context, bs cbor.IpldStore, opts ...Option) (cid.Cid, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return cid.Undef, err
	}
	if err := g.Validate(); err != nil {
		return cid.Undef, xerrors.Errorf("flush: %w", err)
	}

	root := &internal.Root{
		N:           uint64(g.n),
		GridDepth:   uint64(g.gridDepth),
		GridHeight:  uint64(g.gridHeight),
		GridWidth:   uint64(g.gridWidth),
		FeatureSize: uint64(g.featureSize),
		NumLeafs:    uint64(g.nLeafs),
	}

	var stored uint64
	for lo := 0; lo < len(g.trees); lo += treesPerChunk {
		hi := min(lo+treesPerChunk, len(g.trees))
		c, n, err := putChunk(ctx, bs, encodeTrees(g.trees[lo:hi]))
		if err != nil {
			return cid.Undef, xerrors.Errorf("flush trees %d-%d: %w", lo, hi, err)
		}
		root.Trees = append(root.Trees, c)
		stored += n
	}
	for lo := 0; lo < len(g.data); lo += cfg.chunkSize {
		hi := min(lo+cfg.chunkSize, len(g.data))
		c, n, err := putChunk(ctx, bs, encodeFloats(g.data[lo:hi]))
		if err != nil {
			return cid.Undef, xerrors.Errorf("flush data %d-%d: %w", lo, hi, err)
		}
		root.Data = append(root.Data, c)
		stored += n
	}

	c, err := bs.Put(ctx, root)
	if err != nil {
		return cid.Undef, xerrors.Errorf("flush root: %w", err)
	}
	log.Debugw("flushed grid", "root", c, "grid", g.String(),
		"chunks", len(root.Trees)+len(root.Data),
		"raw", humanize.Bytes(uint64(len(g.trees)*treeBytes+len(g.data)*4)),
		"stored", humanize.Bytes(stored))
	return c, nil
}

func putChunk(ctx context.Context, bs cbor.IpldStore, raw []byte) (cid.Cid, uint64, error) {
	ch := &internal.Chunk{
		Length: uint64(len(raw)),
		Raw:    snappy.Encode(nil, raw),
	}
	c, err := bs.Put(ctx, ch)
	if err != nil {
		return cid.Undef, 0, err
	}
	return c, uint64(len(ch.Raw)), nil
}

func getChunk(ctx context.Context, bs cbor.IpldStore, c cid.Cid) ([]byte, error) {
	var ch internal.Chunk
	if err := bs.Get(ctx, c, &ch); err != nil {
		return nil, err
	}
	n, err := snappy.DecodedLen(ch.Raw)
	if err != nil {
		return nil, xerrors.Errorf("chunk %s: %v: %w", c, err, ErrCorruptGrid)
	}
	if uint64(n) != ch.Length {
		return nil, xerrors.Errorf("chunk %s decodes to %d bytes, header says %d: %w", c, n, ch.Length, ErrCorruptGrid)
	}
	raw, err := snappy.Decode(nil, ch.Raw)
	if err != nil {
		return nil, xerrors.Errorf("chunk %s: %v: %w", c, err, ErrCorruptGrid)
	}
	return raw, nil
}

// LoadGrid reads a grid previously written with Flush. The loaded grid is
// validated before it is returned.
func LoadGrid(ctx context.Context, bs cbor.IpldStore, c cid.Cid, opts ...Option) (*Grid, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	var root internal.Root
	if err := bs.Get(ctx, c, &root); err != nil {
		return nil, xerrors.Errorf("failed to load grid root: %w", err)
	}
	for _, d := range []uint64{root.N, root.GridDepth, root.GridHeight, root.GridWidth, root.FeatureSize} {
		if d > maxDim {
			return nil, xerrors.Errorf("root %s: dimension %d out of range: %w", c, d, ErrCorruptGrid)
		}
	}

	nBlocks, ok := mulBounded(maxDim, root.N, root.GridDepth, root.GridHeight, root.GridWidth)
	if !ok {
		return nil, xerrors.Errorf("root %s: block count out of range: %w", c, ErrCorruptGrid)
	}
	if root.NumLeafs > nBlocks*BlockVoxels {
		return nil, xerrors.Errorf("root %s: %d leafs for %d blocks: %w", c, root.NumLeafs, nBlocks, ErrCorruptGrid)
	}
	if _, ok := mulBounded(maxDim, root.NumLeafs, root.FeatureSize); !ok {
		return nil, xerrors.Errorf("root %s: %d leafs x %d features out of range: %w",
			c, root.NumLeafs, root.FeatureSize, ErrCorruptGrid)
	}

	g := &Grid{
		n:           int(root.N),
		gridDepth:   int(root.GridDepth),
		gridHeight:  int(root.GridHeight),
		gridWidth:   int(root.GridWidth),
		featureSize: int(root.FeatureSize),
	}
	if want := (nBlocks + treesPerChunk - 1) / treesPerChunk; uint64(len(root.Trees)) != want {
		return nil, xerrors.Errorf("root %s: %d tree chunks, expected %d: %w", c, len(root.Trees), want, ErrCorruptGrid)
	}
	if err := g.Resize(g.n, g.gridDepth, g.gridHeight, g.gridWidth, g.featureSize, int(root.NumLeafs)); err != nil {
		return nil, err
	}

	off := 0
	for _, tc := range root.Trees {
		raw, err := getChunk(ctx, bs, tc)
		if err != nil {
			return nil, xerrors.Errorf("failed to load tree chunk: %w", err)
		}
		cnt := len(raw) / treeBytes
		if len(raw)%treeBytes != 0 || off+cnt > len(g.trees) {
			return nil, xerrors.Errorf("tree chunk %s holds %d bytes at block %d: %w", tc, len(raw), off, ErrCorruptGrid)
		}
		decodeTrees(g.trees[off:off+cnt], raw)
		off += cnt
	}
	if off != len(g.trees) {
		return nil, xerrors.Errorf("loaded %d trees, expected %d: %w", off, len(g.trees), ErrCorruptGrid)
	}

	off = 0
	for _, dc := range root.Data {
		raw, err := getChunk(ctx, bs, dc)
		if err != nil {
			return nil, xerrors.Errorf("failed to load data chunk: %w", err)
		}
		cnt := len(raw) / 4
		if len(raw)%4 != 0 || off+cnt > len(g.data) {
			return nil, xerrors.Errorf("data chunk %s holds %d bytes at value %d: %w", dc, len(raw), off, ErrCorruptGrid)
		}
		decodeFloats(g.data[off:off+cnt], raw)
		off += cnt
	}
	if off != len(g.data) {
		return nil, xerrors.Errorf("loaded %d values, expected %d: %w", off, len(g.data), ErrCorruptGrid)
	}

	g.UpdatePrefixLeafs()
	if err := g.Validate(); err != nil {
		return nil, xerrors.Errorf("load grid %s: %w", c, err)
	}
	if err := cfg.postcheck("load grid", g); err != nil {
		return nil, err
	}
	return g, nil
}

// mulBounded multiplies factors and reports whether the product stays at or
// below bound.
func mulBounded(bound uint64, factors ...uint64) (uint64, bool) {
	p := uint64(1)
	for _, f := range factors {
		hi, lo := bits.Mul64(p, f)
		if hi != 0 || lo > bound {
			return 0, false
		}
		p = lo
	}
	return p, true
}
