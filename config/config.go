// Package config handles loom.toml tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/loom/stackwalk"
)

// Config represents a loom.toml configuration.
type Config struct {
	Walk     Walk     `toml:"walk"`
	Sampling Sampling `toml:"sampling"`
	Dump     Dump     `toml:"dump"`

	// Dir is the directory containing the loom.toml file (set at load time).
	Dir string `toml:"-"`
}

// Walk configures how register maps are created.
type Walk struct {
	Arch          string `toml:"arch"`
	Checks        bool   `toml:"checks"`
	ProcessFrames bool   `toml:"process-frames"`
	WalkCont      bool   `toml:"walk-continuations"`
}

// Sampling configures the asynchronous walk sampler.
type Sampling struct {
	IntervalMS int    `toml:"interval-ms"`
	Store      string `toml:"store"`
}

// Dump configures the dump tool's output.
type Dump struct {
	ValidOnly bool `toml:"valid-only"`
	ListLimit int  `toml:"list-limit"`
}

// Default returns the configuration used when no loom.toml exists.
func Default() *Config {
	return &Config{
		Walk:     Walk{Arch: "amd64", Checks: true, ProcessFrames: true},
		Sampling: Sampling{IntervalMS: 10, Store: "walks.db"},
		Dump:     Dump{ListLimit: 20},
	}
}

// Load parses a loom.toml file from the given directory. A missing file
// yields the defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "loom.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		c := Default()
		c.Dir = dir
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir = dir
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the configuration for values the tools cannot use.
func (c *Config) Validate() error {
	if _, ok := stackwalk.ArchByName(c.Walk.Arch); !ok {
		return fmt.Errorf("unknown architecture %q", c.Walk.Arch)
	}
	if c.Sampling.IntervalMS < 0 {
		return fmt.Errorf("negative sampling interval %d", c.Sampling.IntervalMS)
	}
	return nil
}

// Arch resolves the configured architecture descriptor.
func (c *Config) Arch() *stackwalk.Arch {
	a, ok := stackwalk.ArchByName(c.Walk.Arch)
	if !ok {
		a = stackwalk.AMD64
	}
	return a
}

// SampleInterval returns the sampling period as a duration.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Sampling.IntervalMS) * time.Millisecond
}

// StorePath returns the sampler store path resolved against Dir.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Sampling.Store) {
		return c.Sampling.Store
	}
	return filepath.Join(c.Dir, c.Sampling.Store)
}
