package octgrid

import (
	"golang.org/x/xerrors"
)

// denseEpsilon is the magnitude above which a dense feature marks its voxel
// as occupied.
const denseEpsilon = 1e-12

// Region is the cube of voxels covered by one tree node: batch entry N,
// absolute corner (D, H, W) and edge length Width.
type Region struct {
	N, D, H, W int
	Width      int
}

// Occupancy reports whether a region holds anything that justifies
// refining it. It is called concurrently from several workers.
type Occupancy func(r Region) bool

// Sampler writes the features of the leaf covering r into dst. occupied is
// the result of the Occupancy call for the same region. It is called
// concurrently from several workers, each with its own dst.
type Sampler func(r Region, occupied bool, dst []float32)

// Create builds an n x gd x gh x gw grid with featureSize features per leaf.
// Every node above the finest depth is split iff occ reports its region as
// occupied; sample fills the features of every resulting leaf.
func Create(n, gd, gh, gw, featureSize int, occ Occupancy, sample Sampler, opts ...Option) (*Grid, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	if featureSize < 1 {
		return nil, xerrors.Errorf("create: feature size %d: %w", featureSize, ErrInvalidFeatureSize)
	}
	if occ == nil || sample == nil {
		return nil, xerrors.Errorf("create: occupancy and sampler are required: %w", ErrInvalidArgument)
	}

	g := NewGrid()
	if err := g.Resize(n, gd, gh, gw, featureSize, 0); err != nil {
		return nil, xerrors.Errorf("create: %w", err)
	}
	g.ClearTrees()

	forEachBlock(g.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		t := &g.trees[gridIdx]
		if occ(g.nodeRegion(gridIdx, 0)) {
			t.Set(0)
		}
		for bit := firstL1Bit; bit < firstL3Bit; bit++ {
			if t.IsSet(ParentBitIndex(bit)) && occ(g.nodeRegion(gridIdx, bit)) {
				t.Set(bit)
			}
		}
	})
	g.RebuildIndex()

	forEachBlock(g.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		data := g.BlockData(gridIdx)
		g.trees[gridIdx].ForEachLeaf(func(bitIdx, leafIdx int) {
			r := g.nodeRegion(gridIdx, bitIdx)
			sample(r, occ(r), data[leafIdx*featureSize:(leafIdx+1)*featureSize])
		})
	})

	log.Debugw("created grid", "grid", g.String())
	if err := cfg.postcheck("create", g); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Grid) nodeRegion(gridIdx, bitIdx int) Region {
	n, d, h, w, depth := g.DenseIndex(gridIdx, bitIdx)
	return Region{N: n, D: d, H: h, W: w, Width: WidthFromDepth(depth)}
}

// denseVolume describes a dense dhwc array of one batch entry.
type denseVolume struct {
	values []float32

	depth, height, width, fs int
}

func newDenseVolume(values []float32, depth, height, width, fs int) (*denseVolume, error) {
	if depth < 1 || height < 1 || width < 1 {
		return nil, xerrors.Errorf("dense size %dx%dx%d: %w", depth, height, width, ErrInvalidArgument)
	}
	if fs < 1 {
		return nil, xerrors.Errorf("dense feature size %d: %w", fs, ErrInvalidFeatureSize)
	}
	if len(values) != depth*height*width*fs {
		return nil, xerrors.Errorf("dense array of %d values for %dx%dx%dx%d: %w",
			len(values), depth, height, width, fs, ErrShapeMismatch)
	}
	return &denseVolume{values: values, depth: depth, height: height, width: width, fs: fs}, nil
}

func (v *denseVolume) blocks() (gd, gh, gw int) {
	return (v.depth + BlockWidth - 1) / BlockWidth, (v.height + BlockWidth - 1) / BlockWidth, (v.width + BlockWidth - 1) / BlockWidth
}

func (v *denseVolume) inBounds(d, h, w int) bool {
	return d < v.depth && h < v.height && w < v.width
}

// voxel returns the features of an in-bounds voxel.
func (v *denseVolume) voxel(d, h, w int) []float32 {
	off := ((d*v.height+h)*v.width + w) * v.fs
	return v.values[off : off+v.fs]
}

// any reports whether pred holds for the features of any in-bounds voxel of r.
func (v *denseVolume) any(r Region, pred func(f []float32) bool) bool {
	for d := r.D; d < r.D+r.Width; d++ {
		for h := r.H; h < r.H+r.Width; h++ {
			for w := r.W; w < r.W+r.Width; w++ {
				if v.inBounds(d, h, w) && pred(v.voxel(d, h, w)) {
					return true
				}
			}
		}
	}
	return false
}

// FromDense builds a single-channel grid from a dense depth x height x width
// array. A region is occupied if any of its voxels falls into one of the
// half-open value ranges [lo, hi); leaves hold 1 when occupied, else 0. The
// block grid is the dense size rounded up to whole blocks.
func FromDense(dense []float32, depth, height, width int, ranges [][2]float32, opts ...Option) (*Grid, error) {
	v, err := newDenseVolume(dense, depth, height, width, 1)
	if err != nil {
		return nil, xerrors.Errorf("from dense: %w", err)
	}
	inRange := func(f []float32) bool {
		for _, r := range ranges {
			if f[0] >= r[0] && f[0] < r[1] {
				return true
			}
		}
		return false
	}
	occ := func(r Region) bool {
		return v.any(r, inRange)
	}
	sample := func(_ Region, occupied bool, dst []float32) {
		dst[0] = 0
		if occupied {
			dst[0] = 1
		}
	}
	gd, gh, gw := v.blocks()
	return Create(1, gd, gh, gw, 1, occ, sample, opts...)
}

// FromDenseFeatures builds a grid from a dense dhwc feature array. A region
// is occupied if any feature of any of its voxels differs from zero; each
// leaf takes the features of its corner voxel.
func FromDenseFeatures(dense []float32, depth, height, width, featureSize int, opts ...Option) (*Grid, error) {
	v, err := newDenseVolume(dense, depth, height, width, featureSize)
	if err != nil {
		return nil, xerrors.Errorf("from dense features: %w", err)
	}
	nonZero := func(f []float32) bool {
		for _, x := range f {
			if x > denseEpsilon || x < -denseEpsilon {
				return true
			}
		}
		return false
	}
	occ := func(r Region) bool {
		return v.any(r, nonZero)
	}
	sample := func(r Region, _ bool, dst []float32) {
		if !v.inBounds(r.D, r.H, r.W) {
			for i := range dst {
				dst[i] = 0
			}
			return
		}
		copy(dst, v.voxel(r.D, r.H, r.W))
	}
	gd, gh, gw := v.blocks()
	return Create(1, gd, gh, gw, featureSize, occ, sample, opts...)
}

// FromDenseBatch is FromDense over n consecutive dense volumes, stacked
// along the batch dimension.
func FromDenseBatch(dense []float32, n, depth, height, width int, ranges [][2]float32, opts ...Option) (*Grid, error) {
	return fromDenseBatch(dense, n, depth*height*width, func(vol []float32) (*Grid, error) {
		return FromDense(vol, depth, height, width, ranges, opts...)
	}, opts)
}

// FromDenseFeaturesBatch is FromDenseFeatures over n consecutive dense
// volumes, stacked along the batch dimension.
func FromDenseFeaturesBatch(dense []float32, n, depth, height, width, featureSize int, opts ...Option) (*Grid, error) {
	return fromDenseBatch(dense, n, depth*height*width*featureSize, func(vol []float32) (*Grid, error) {
		return FromDenseFeatures(vol, depth, height, width, featureSize, opts...)
	}, opts)
}

func fromDenseBatch(dense []float32, n, volume int, create func([]float32) (*Grid, error), opts []Option) (*Grid, error) {
	if n < 1 {
		return nil, xerrors.Errorf("from dense batch of %d: %w", n, ErrInvalidArgument)
	}
	if len(dense) != n*volume {
		return nil, xerrors.Errorf("from dense batch: %d values for %d volumes of %d: %w", len(dense), n, volume, ErrShapeMismatch)
	}
	grids := make([]*Grid, n)
	for i := range grids {
		g, err := create(dense[i*volume : (i+1)*volume])
		if err != nil {
			return nil, xerrors.Errorf("batch entry %d: %w", i, err)
		}
		grids[i] = g
	}
	out := NewGrid()
	if err := CombineN(grids, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ToDense expands every leaf over the voxels it covers and returns an
// n x D x H x W x featureSize array, D, H and W being the voxel dimensions
// of the block grid.
func ToDense(grid *Grid, opts ...Option) ([]float32, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	dd, dh, dw := grid.DenseDims()
	fs := grid.featureSize
	out := make([]float32, grid.n*dd*dh*dw*fs)

	forEachBlock(grid.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		data := grid.BlockData(gridIdx)
		grid.trees[gridIdx].ForEachLeaf(func(bitIdx, leafIdx int) {
			r := grid.nodeRegion(gridIdx, bitIdx)
			src := data[leafIdx*fs : (leafIdx+1)*fs]
			for d := r.D; d < r.D+r.Width; d++ {
				for h := r.H; h < r.H+r.Width; h++ {
					for w := r.W; w < r.W+r.Width; w++ {
						off := (((r.N*dd+d)*dh+h)*dw + w) * fs
						copy(out[off:off+fs], src)
					}
				}
			}
		})
	})
	return out, nil
}
