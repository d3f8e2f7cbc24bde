package octgrid

import (
	"golang.org/x/sync/errgroup"
)

// numChunks is the number of contiguous ranges parallelFor splits n items into.
func numChunks(n, workers int) int {
	if n <= 0 {
		return 0
	}
	if workers > n {
		return n
	}
	return workers
}

// parallelFor splits [0, n) into numChunks(n, workers) contiguous ranges
// and runs fn on each from its own goroutine. fn receives the chunk number,
// which callers use to address private partial accumulators.
func parallelFor(n, workers int, fn func(chunk, lo, hi int) error) error {
	chunks := numChunks(n, workers)
	if chunks == 0 {
		return nil
	}
	if chunks == 1 {
		return fn(0, 0, n)
	}

	var grp errgroup.Group
	size, rem := n/chunks, n%chunks
	lo := 0
	for c := 0; c < chunks; c++ {
		hi := lo + size
		if c < rem {
			hi++
		}
		chunk, chunkLo, chunkHi := c, lo, hi
		grp.Go(func() error {
			return fn(chunk, chunkLo, chunkHi)
		})
		lo = hi
	}
	return grp.Wait()
}

// forEachBlock runs fn for every block index, distributing contiguous block
// ranges over the configured workers.
func forEachBlock(nBlocks, workers int, fn func(chunk, gridIdx int)) {
	_ = parallelFor(nBlocks, workers, func(chunk, lo, hi int) error {
		for i := lo; i < hi; i++ {
			fn(chunk, i)
		}
		return nil
	})
}
