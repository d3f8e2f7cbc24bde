package octgrid

import (
	"math"

	"golang.org/x/xerrors"
)

// bnEpsilon is added to every variance before taking roots or powers.
const bnEpsilon = 1e-12

func checkChannels(grid *Grid, arrays ...[]float32) error {
	if grid.featureSize < 1 {
		return xerrors.Errorf("grid has feature size %d: %w", grid.featureSize, ErrInvalidFeatureSize)
	}
	for _, a := range arrays {
		if len(a) != grid.featureSize {
			return xerrors.Errorf("channel array of length %d for feature size %d: %w",
				len(a), grid.featureSize, ErrInvalidFeatureSize)
		}
	}
	return nil
}

func checkAligned(a, b *Grid) error {
	if !SameShape(a, b) || a.nLeafs != b.nLeafs {
		return xerrors.Errorf("%s vs %s: %w", a, b, ErrShapeMismatch)
	}
	if !EqualTrees(a, b) {
		return ErrTreeMismatch
	}
	return nil
}

// BNStat computes the per-channel mean and variance over all voxels of the
// batch. Every leaf contributes with the number of voxels it covers.
func BNStat(grid *Grid, avgs, vars []float32, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(grid, avgs, vars); err != nil {
		return xerrors.Errorf("bn stat: %w", err)
	}
	if grid.NumBlocks() == 0 {
		return xerrors.Errorf("bn stat on a grid without blocks: %w", ErrInvalidArgument)
	}
	mean, variance := bnStat(grid, cfg)
	for c := range mean {
		avgs[c] = float32(mean[c])
		vars[c] = float32(variance[c])
	}
	return nil
}

func bnStat(grid *Grid, cfg *config) (mean, variance []float64) {
	channels := grid.featureSize
	nBlocks := grid.NumBlocks()
	chunks := numChunks(nBlocks, cfg.workers)
	partial := cfg.scratch(chunks * 2 * channels)

	forEachBlock(nBlocks, cfg.workers, func(chunk, gridIdx int) {
		acc := partial[chunk*2*channels : (chunk+1)*2*channels]
		sum, sq := acc[:channels], acc[channels:]
		data := grid.BlockData(gridIdx)
		grid.trees[gridIdx].ForEachLeaf(func(bitIdx, leafIdx int) {
			factor := float64(VoxelCount(DepthFromBitIndex(bitIdx)))
			for c, v := range data[leafIdx*channels : (leafIdx+1)*channels] {
				fv := factor * float64(v)
				sum[c] += fv
				sq[c] += fv * float64(v)
			}
		})
	})

	mean = make([]float64, channels)
	variance = make([]float64, channels)
	for chunk := 0; chunk < chunks; chunk++ {
		acc := partial[chunk*2*channels : (chunk+1)*2*channels]
		for c := 0; c < channels; c++ {
			mean[c] += acc[c]
			variance[c] += acc[channels+c]
		}
	}

	m := float64(grid.NumVoxels())
	for c := 0; c < channels; c++ {
		mean[c] /= m
		variance[c] /= m
		variance[c] -= mean[c] * mean[c]
	}
	return mean, variance
}

// BNNorm computes the batch statistics of in, writes them to avgs and vars
// and stores the normalized values in out, which takes the structure of in.
// out may be in.
func BNNorm(in *Grid, avgs, vars []float32, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(in, avgs, vars); err != nil {
		return xerrors.Errorf("bn norm: %w", err)
	}
	if in.NumBlocks() == 0 {
		return xerrors.Errorf("bn norm on a grid without blocks: %w", ErrInvalidArgument)
	}

	mean, variance := bnStat(in, cfg)
	for c := range mean {
		avgs[c] = float32(mean[c])
		vars[c] = float32(variance[c])
	}
	if err := bnNormalize(in, mean, variance, out, cfg); err != nil {
		return xerrors.Errorf("bn norm: %w", err)
	}
	return nil
}

// BNNormWithStats normalizes in with externally supplied statistics, e.g.
// running averages collected during training.
func BNNormWithStats(in *Grid, avgs, vars []float32, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(in, avgs, vars); err != nil {
		return xerrors.Errorf("bn norm with stats: %w", err)
	}
	mean := make([]float64, len(avgs))
	variance := make([]float64, len(vars))
	for c := range avgs {
		mean[c] = float64(avgs[c])
		variance[c] = float64(vars[c])
	}
	if err := bnNormalize(in, mean, variance, out, cfg); err != nil {
		return xerrors.Errorf("bn norm with stats: %w", err)
	}
	return nil
}

func bnNormalize(in *Grid, mean, variance []float64, out *Grid, cfg *config) error {
	if err := out.CopyStructure(in); err != nil {
		return err
	}
	channels := in.featureSize
	invStd := make([]float64, channels)
	for c := range invStd {
		invStd[c] = 1 / math.Sqrt(variance[c]+bnEpsilon)
	}

	forEachBlock(in.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		src := in.BlockData(gridIdx)
		dst := out.BlockData(gridIdx)
		in.trees[gridIdx].ForEachLeaf(func(_, leafIdx int) {
			off := leafIdx * channels
			for c := 0; c < channels; c++ {
				dst[off+c] = float32((float64(src[off+c]) - mean[c]) * invStd[c])
			}
		})
	})
	return cfg.postcheck("bn norm", out)
}

// BNScaleShift computes out = gamma*in + beta per channel. Passing the same
// grid as in and out scales in place.
func BNScaleShift(in *Grid, gamma, beta []float32, out *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(in, gamma, beta); err != nil {
		return xerrors.Errorf("bn scale shift: %w", err)
	}
	if err := out.CopyStructure(in); err != nil {
		return err
	}

	channels := in.featureSize
	_ = parallelFor(in.nLeafs, cfg.workers, func(_, lo, hi int) error {
		for leaf := lo; leaf < hi; leaf++ {
			for c := 0; c < channels; c++ {
				i := leaf*channels + c
				out.data[i] = gamma[c]*in.data[i] + beta[c]
			}
		}
		return nil
	})
	return cfg.postcheck("bn scale shift", out)
}

// BNStatBackward computes the gradients of the loss with respect to the
// batch mean and variance.
func BNStatBackward(in, gradOut *Grid, avgs, vars, gradAvgs, gradVars []float32, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(in, avgs, vars, gradAvgs, gradVars); err != nil {
		return xerrors.Errorf("bn stat backward: %w", err)
	}
	if err := checkAligned(in, gradOut); err != nil {
		return xerrors.Errorf("bn stat backward: %w", err)
	}
	if in.NumBlocks() == 0 {
		return xerrors.Errorf("bn stat backward on a grid without blocks: %w", ErrInvalidArgument)
	}
	ga, gv := bnStatBackward(in, gradOut, avgs, vars, cfg)
	for c := range ga {
		gradAvgs[c] = float32(ga[c])
		gradVars[c] = float32(gv[c])
	}
	return nil
}

func bnStatBackward(in, gradOut *Grid, avgs, vars []float32, cfg *config) (gradAvgs, gradVars []float64) {
	channels := in.featureSize
	nBlocks := in.NumBlocks()
	chunks := numChunks(nBlocks, cfg.workers)
	partial := cfg.scratch(chunks * 3 * channels)

	forEachBlock(nBlocks, cfg.workers, func(chunk, gridIdx int) {
		acc := partial[chunk*3*channels : (chunk+1)*3*channels]
		ga, centeredSum, gv := acc[:channels], acc[channels:2*channels], acc[2*channels:]
		src := in.BlockData(gridIdx)
		grad := gradOut.BlockData(gridIdx)
		in.trees[gridIdx].ForEachLeaf(func(bitIdx, leafIdx int) {
			factor := float64(VoxelCount(DepthFromBitIndex(bitIdx)))
			off := leafIdx * channels
			for c := 0; c < channels; c++ {
				g := float64(grad[off+c])
				centered := factor * (float64(src[off+c]) - float64(avgs[c]))
				ga[c] += factor * g
				centeredSum[c] += centered
				gv[c] += g * centered
			}
		})
	})

	gradAvgs = make([]float64, channels)
	gradVars = make([]float64, channels)
	centered := make([]float64, channels)
	for chunk := 0; chunk < chunks; chunk++ {
		acc := partial[chunk*3*channels : (chunk+1)*3*channels]
		for c := 0; c < channels; c++ {
			gradAvgs[c] += acc[c]
			centered[c] += acc[channels+c]
			gradVars[c] += acc[2*channels+c]
		}
	}

	m := float64(in.NumVoxels())
	for c := 0; c < channels; c++ {
		v := float64(vars[c]) + bnEpsilon
		gradVars[c] *= -0.5 * math.Pow(v, -1.5)
		gradAvgs[c] = -gradAvgs[c]/math.Sqrt(v) + gradVars[c]/m*(-2)*centered[c]
	}
	return gradAvgs, gradVars
}

// BNNormBackward computes the gradient of the loss with respect to the
// input of BNNorm, given the statistics used in the forward pass.
func BNNormBackward(in, gradOut *Grid, avgs, vars []float32, gradIn *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(in, avgs, vars); err != nil {
		return xerrors.Errorf("bn norm backward: %w", err)
	}
	if err := checkAligned(in, gradOut); err != nil {
		return xerrors.Errorf("bn norm backward: %w", err)
	}
	if in.NumBlocks() == 0 {
		return xerrors.Errorf("bn norm backward on a grid without blocks: %w", ErrInvalidArgument)
	}
	if gradIn == in {
		return xerrors.Errorf("bn norm backward: %w", ErrAliasedGrid)
	}

	gradAvgs, gradVars := bnStatBackward(in, gradOut, avgs, vars, cfg)

	channels := in.featureSize
	m := float64(in.NumVoxels())
	invStd := make([]float64, channels)
	gradVarsOverM := make([]float64, channels)
	gradAvgsOverM := make([]float64, channels)
	for c := 0; c < channels; c++ {
		invStd[c] = 1 / math.Sqrt(float64(vars[c])+bnEpsilon)
		gradVarsOverM[c] = gradVars[c] * 2 / m
		gradAvgsOverM[c] = gradAvgs[c] / m
	}

	if err := gradIn.CopyStructure(gradOut); err != nil {
		return err
	}
	forEachBlock(in.NumBlocks(), cfg.workers, func(_, gridIdx int) {
		src := in.BlockData(gridIdx)
		grad := gradOut.BlockData(gridIdx)
		dst := gradIn.BlockData(gridIdx)
		in.trees[gridIdx].ForEachLeaf(func(_, leafIdx int) {
			off := leafIdx * channels
			for c := 0; c < channels; c++ {
				dst[off+c] = float32(float64(grad[off+c])*invStd[c] +
					gradVarsOverM[c]*(float64(src[off+c])-float64(avgs[c])) + gradAvgsOverM[c])
			}
		})
	})
	return cfg.postcheck("bn norm backward", gradIn)
}

// BNScaleShiftBackward computes gradIn = gamma*gradOut per channel. Passing
// the same grid as gradOut and gradIn computes in place.
func BNScaleShiftBackward(gradOut *Grid, gamma []float32, gradIn *Grid, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(gradOut, gamma); err != nil {
		return xerrors.Errorf("bn scale shift backward: %w", err)
	}
	if err := gradIn.CopyStructure(gradOut); err != nil {
		return err
	}

	channels := gradOut.featureSize
	_ = parallelFor(gradOut.nLeafs, cfg.workers, func(_, lo, hi int) error {
		for leaf := lo; leaf < hi; leaf++ {
			for c := 0; c < channels; c++ {
				i := leaf*channels + c
				gradIn.data[i] = gamma[c] * gradOut.data[i]
			}
		}
		return nil
	})
	return cfg.postcheck("bn scale shift backward", gradIn)
}

// BNScaleShiftWeightBackward accumulates the gradients with respect to gamma
// and beta into gradGamma and gradBeta.
func BNScaleShiftWeightBackward(in, gradOut *Grid, gradGamma, gradBeta []float32, opts ...Option) error {
	cfg, err := newConfig(opts)
	if err != nil {
		return err
	}
	if err := checkChannels(in, gradGamma, gradBeta); err != nil {
		return xerrors.Errorf("bn scale shift weight backward: %w", err)
	}
	if !SameShape(in, gradOut) || in.nLeafs != gradOut.nLeafs {
		return xerrors.Errorf("bn scale shift weight backward: %w", ErrShapeMismatch)
	}

	channels := in.featureSize
	chunks := numChunks(in.nLeafs, cfg.workers)
	partial := cfg.scratch(chunks * 2 * channels)
	_ = parallelFor(in.nLeafs, cfg.workers, func(chunk, lo, hi int) error {
		acc := partial[chunk*2*channels : (chunk+1)*2*channels]
		for leaf := lo; leaf < hi; leaf++ {
			for c := 0; c < channels; c++ {
				i := leaf*channels + c
				g := float64(gradOut.data[i])
				acc[c] += g * float64(in.data[i])
				acc[channels+c] += g
			}
		}
		return nil
	})
	for chunk := 0; chunk < chunks; chunk++ {
		acc := partial[chunk*2*channels : (chunk+1)*2*channels]
		for c := 0; c < channels; c++ {
			gradGamma[c] += float32(acc[c])
			gradBeta[c] += float32(acc[channels+c])
		}
	}
	return nil
}
