package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"dbcs/internal/logging"
	"dbcs/internal/stage"

	"github.com/BurntSushi/toml"
)

// DefaultOutput is used when no output is given and no input is known to
// derive one from.
const DefaultOutput = "dbcs-source"

type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Checksum ChecksumConfig `toml:"checksum"`
	Store    StoreConfig    `toml:"store"`
	Paths    PathsConfig    `toml:"paths"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

type ChecksumConfig struct {
	Workers   int `toml:"workers"`
	BatchSize int `toml:"batch_size"`
}

type StoreConfig struct {
	File          string `toml:"file"`
	OpenTimeoutMS int    `toml:"open_timeout_ms"`
	NoSync        bool   `toml:"no_sync"`
}

type PathsConfig struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`
	// WriteOnly generates a random fixture store at Input instead of
	// running the checksum pipeline.
	WriteOnly bool `toml:"write_only"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "error",
			Format: "auto",
		},
		Checksum: ChecksumConfig{
			Workers:   runtime.NumCPU(),
			BatchSize: 4,
		},
		Store: StoreConfig{
			File:          "store.db",
			OpenTimeoutMS: 1000,
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, only defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config: unknown keys %v", undecoded)
	}
	return cfg, nil
}

// OpenTimeout is the store lock timeout as a duration.
func (c StoreConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutMS) * time.Millisecond
}

// ResolveOutput fills in Paths.Output when it was left empty, deriving it
// from the input's base name.
func (c *Config) ResolveOutput() {
	if c.Paths.Output != "" && c.Paths.Output != DefaultOutput {
		return
	}
	if c.Paths.Input == "" {
		c.Paths.Output = DefaultOutput
		return
	}
	in := filepath.Clean(c.Paths.Input)
	if base := filepath.Base(in); base == "." || base == ".." {
		if abs, err := filepath.Abs(in); err == nil {
			in = abs
		}
	}
	c.Paths.Output = filepath.Join(filepath.Dir(in), "dbcs-"+filepath.Base(in))
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Logging.Level != "" && !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Checksum.Workers < 1 {
		errs = append(errs, fmt.Errorf("checksum.workers: must be at least 1, got %d", c.Checksum.Workers))
	}
	if c.Checksum.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("checksum.batch_size: must be at least 1, got %d", c.Checksum.BatchSize))
	}
	if c.Store.File == "" || filepath.Base(c.Store.File) != c.Store.File {
		errs = append(errs, fmt.Errorf("store.file: must be a plain file name, got %q", c.Store.File))
	}
	if c.Store.OpenTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("store.open_timeout_ms: must not be negative"))
	}
	if c.Paths.Input == "" {
		errs = append(errs, errors.New("paths.input: required"))
	}
	if !c.Paths.WriteOnly && c.Paths.Input != "" {
		overlap, err := stage.Overlaps(c.Paths.Input, c.Paths.Output)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("paths.output: %w", err))
		case overlap:
			errs = append(errs, errors.New("paths.output: must not overlap the input"))
		}
	}
	return errors.Join(errs...)
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
