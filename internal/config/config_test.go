package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want error", cfg.Logging.Level)
	}
	if cfg.Checksum.Workers != runtime.NumCPU() {
		t.Errorf("Workers: got %d, want %d", cfg.Checksum.Workers, runtime.NumCPU())
	}
	if cfg.Checksum.BatchSize != 4 {
		t.Errorf("BatchSize: got %d, want 4", cfg.Checksum.BatchSize)
	}
	if cfg.Store.File != "store.db" {
		t.Errorf("Store.File: got %q", cfg.Store.File)
	}
	if cfg.Store.OpenTimeout() != time.Second {
		t.Errorf("OpenTimeout: got %v", cfg.Store.OpenTimeout())
	}
}

func TestLoadNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Checksum.BatchSize != 4 {
		t.Errorf("BatchSize: got %d, want 4", cfg.Checksum.BatchSize)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
[logging]
level = "debug"
format = "json"
file = "logs/dbcs.log"

[checksum]
workers = 3
batch_size = 16

[store]
file = "data.db"
open_timeout_ms = 250
no_sync = true

[paths]
input = "/data/in"
output = "/data/out"
`
	if err := os.WriteFile(path, []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" || cfg.Logging.File != "logs/dbcs.log" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
	if cfg.Checksum.Workers != 3 || cfg.Checksum.BatchSize != 16 {
		t.Errorf("Checksum: got %+v", cfg.Checksum)
	}
	if cfg.Store.File != "data.db" || !cfg.Store.NoSync || cfg.Store.OpenTimeout() != 250*time.Millisecond {
		t.Errorf("Store: got %+v", cfg.Store)
	}
	if cfg.Paths.Input != "/data/in" || cfg.Paths.Output != "/data/out" {
		t.Errorf("Paths: got %+v", cfg.Paths)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[checksum]\nworkers = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Checksum.Workers != 2 {
		t.Errorf("Workers: got %d", cfg.Checksum.Workers)
	}
	if cfg.Checksum.BatchSize != 4 {
		t.Errorf("BatchSize should keep default, got %d", cfg.Checksum.BatchSize)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[checksum]\nthreads = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown keys error, got %v", err)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("this is not [valid toml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.toml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolveOutput(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		output string
		want   string
	}{
		{"no input", "", "", DefaultOutput},
		{"relative input", "mydb", "", "dbcs-mydb"},
		{"absolute input", "/var/lib/mydb/", "", "/var/lib/dbcs-mydb"},
		{"default output replaced", "mydb", DefaultOutput, "dbcs-mydb"},
		{"explicit output kept", "mydb", "/tmp/out", "/tmp/out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Paths.Input = tt.input
			cfg.Paths.Output = tt.output
			cfg.ResolveOutput()
			if cfg.Paths.Output != tt.want {
				t.Errorf("got %q, want %q", cfg.Paths.Output, tt.want)
			}
		})
	}
}

func TestResolveOutputFromWorkingDir(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	cfg.Paths.Input = "."
	cfg.ResolveOutput()
	if want := filepath.Join(filepath.Dir(wd), "dbcs-"+filepath.Base(wd)); cfg.Paths.Output != want {
		t.Errorf("output: got %q, want %q", cfg.Paths.Output, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("derived output should not overlap the input: %v", err)
	}
}

func TestConfigValidate_Valid(t *testing.T) {
	cfg := Defaults()
	cfg.Paths.Input = "in"
	cfg.ResolveOutput()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config should pass validation: %v", err)
	}
}

func TestConfigValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero workers", func(c *Config) { c.Checksum.Workers = 0 }, "checksum.workers"},
		{"zero batch", func(c *Config) { c.Checksum.BatchSize = 0 }, "checksum.batch_size"},
		{"store file with dir", func(c *Config) { c.Store.File = "a/b.db" }, "store.file"},
		{"negative timeout", func(c *Config) { c.Store.OpenTimeoutMS = -1 }, "store.open_timeout_ms"},
		{"missing input", func(c *Config) { c.Paths.Input = "" }, "paths.input"},
		{"output equals input", func(c *Config) { c.Paths.Output = "in/" }, "paths.output"},
		{"output contains input", func(c *Config) {
			c.Paths.Input = "data/in"
			c.Paths.Output = "data"
		}, "paths.output"},
		{"output inside input", func(c *Config) { c.Paths.Output = "in/copy" }, "paths.output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Paths.Input = "in"
			cfg.Paths.Output = "out"
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestConfigValidate_WriteOnlyIgnoresOutput(t *testing.T) {
	cfg := Defaults()
	cfg.Paths.Input = "in"
	cfg.Paths.Output = "in"
	cfg.Paths.WriteOnly = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("write-only mode should not check output: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/x.toml"); got != filepath.Join(home, "x.toml") {
		t.Errorf("ExpandHome: got %q", got)
	}
	if got := ExpandHome("/abs/x.toml"); got != "/abs/x.toml" {
		t.Errorf("ExpandHome should leave absolute paths: got %q", got)
	}
}
