package octgrid

import (
	"io"

	"github.com/BurntSushi/toml"
	humanize "github.com/dustin/go-humanize"
	"golang.org/x/xerrors"
)

// Config is the TOML form of the options shared by grid operations.
//
//	workers = 8
//	chunk_size = "256 KiB"
//	validate = true
//
// chunk_size is the byte size of a persisted data chunk; zero values keep
// the defaults.
type Config struct {
	Workers   int    `toml:"workers"`
	ChunkSize string `toml:"chunk_size"`
	Validate  bool   `toml:"validate"`
}

// DecodeConfig parses a TOML configuration.
func DecodeConfig(r io.Reader) (*Config, error) {
	var c Config
	if _, err := toml.NewDecoder(r).Decode(&c); err != nil {
		return nil, xerrors.Errorf("could not decode TOML config: %w", err)
	}
	return &c, nil
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, xerrors.Errorf("no TOML configuration file provided: %w", ErrInvalidArgument)
	}
	var c Config
	if _, err := toml.DecodeFile(filename, &c); err != nil {
		return nil, xerrors.Errorf("could not decode TOML config %s: %w", filename, err)
	}
	log.Debugw("loaded config", "file", filename, "workers", c.Workers, "chunkSize", c.ChunkSize, "validate", c.Validate)
	return &c, nil
}

// Options converts the configuration into options. Unset fields produce no
// option.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	if c.Workers != 0 {
		opts = append(opts, UseWorkers(c.Workers))
	}
	if c.ChunkSize != "" {
		size, err := humanize.ParseBytes(c.ChunkSize)
		if err != nil {
			return nil, xerrors.Errorf("chunk_size %q: %v: %w", c.ChunkSize, err, ErrInvalidArgument)
		}
		opts = append(opts, UseChunkSize(int(size/4)))
	}
	if c.Validate {
		opts = append(opts, UseValidation(true))
	}

	if _, err := newConfig(opts); err != nil {
		return nil, err
	}
	return opts, nil
}
