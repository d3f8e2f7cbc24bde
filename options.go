package octgrid

import (
	"fmt"
	"runtime"
)

var (
	defaultChunkSize = 1 << 16
	// MinChunkSize is the smallest number of values a persisted data chunk may hold.
	MinChunkSize = 64
)

type config struct {
	workers   int
	chunkSize int
	validate  bool
	buffer    *Buffer
}

// Option configures kernels, persistence and validation.
type Option func(*config) error

// UseWorkers sets how many goroutines share the blocks of a grid.
func UseWorkers(workers int) Option {
	return func(c *config) error {
		if workers < 1 {
			return fmt.Errorf("worker count must be at least 1, is %d", workers)
		}
		c.workers = workers
		return nil
	}
}

// UseChunkSize sets the number of float values stored per persisted data chunk.
func UseChunkSize(size int) Option {
	return func(c *config) error {
		if size < MinChunkSize {
			return fmt.Errorf("chunk size must be at least %d, is %d", MinChunkSize, size)
		}
		c.chunkSize = size
		return nil
	}
}

// UseValidation makes mutating operations verify the grid invariants and the
// finiteness of the data they produced before returning.
func UseValidation(validate bool) Option {
	return func(c *config) error {
		c.validate = validate
		return nil
	}
}

// UseBuffer hands a caller-owned scratch arena to the statistic reductions so
// repeated calls do not reallocate their partial accumulators.
func UseBuffer(buf *Buffer) Option {
	return func(c *config) error {
		if buf == nil {
			return fmt.Errorf("scratch buffer must not be nil")
		}
		c.buffer = buf
		return nil
	}
}

func defaultConfig() *config {
	return &config{
		workers:   runtime.GOMAXPROCS(0),
		chunkSize: defaultChunkSize,
	}
}

func newConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
