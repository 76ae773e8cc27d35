// Package mconfig loads the configuration file for the murmur-broadcast command.
package mconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gordian-engine/murmur/mstore"
)

// Config is the on-disk configuration, encoded as TOML.
type Config struct {
	// Minimum log level: debug, info, warn, or error.
	LogLevel string `toml:"LogLevel"`

	// If set, logs are written to this file with rotation
	// instead of to stderr.
	// Stdout is never used for logs, since it carries the protocol.
	LogFile string `toml:"LogFile"`

	// Directory for the durable value journal.
	// Empty disables the journal.
	DataDir string `toml:"DataDir"`

	// Listen address for the Prometheus metrics server.
	// Empty disables the server.
	MetricsAddr string `toml:"MetricsAddr"`

	// Maximum concurrent fanout RPCs per broadcast.
	// Zero means unbounded.
	FanoutConcurrency int `toml:"FanoutConcurrency"`

	// Attempt neighbors sequentially and stop at the first failed RPC,
	// instead of attempting every neighbor.
	StopFanoutOnFailure bool `toml:"StopFanoutOnFailure"`

	// See [mstore.Config.DenseLimit].
	DenseValueLimit int `toml:"DenseValueLimit"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel:        "info",
		DenseValueLimit: mstore.DefaultDenseLimit,
	}
}

// Load reads the TOML file at path over the defaults.
// An empty path returns [Default].
//
// Unknown keys are rejected, since a typo would otherwise
// silently leave a default in place.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf(
			"config file %s has unknown keys: %s",
			path, strings.Join(keys, ", "),
		)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every invalid setting in c.
func (c Config) Validate() error {
	var errs error

	if _, err := c.Level(); err != nil {
		errs = errors.Join(errs, err)
	}

	if c.FanoutConcurrency < 0 {
		errs = errors.Join(errs, fmt.Errorf(
			"FanoutConcurrency must not be negative (got %d)", c.FanoutConcurrency,
		))
	}

	if c.StopFanoutOnFailure && c.FanoutConcurrency > 1 {
		errs = errors.Join(errs, errors.New(
			"StopFanoutOnFailure attempts neighbors one at a time; FanoutConcurrency must be 0 or 1",
		))
	}

	return errs
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LogLevel %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Write encodes c as TOML to path, creating or truncating the file.
func (c Config) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}
