// dbcs produces a checksummed copy of a partitioned key-value store.
//
// The input store is copied to the output path and every value in the
// copy is replaced by the hex SHA-256 of "key:value". Two copies of the same
// dataset can then be compared without comparing payloads.
//
// With --write-only, dbcs instead creates a store of random partitions and
// rows at the input path, for use as a test fixture.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"dbcs/internal/checksum"
	"dbcs/internal/config"
	"dbcs/internal/fixture"
	"dbcs/internal/logging"
	"dbcs/internal/stage"
	boltstore "dbcs/internal/store/bolt"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

var log = logging.For("main")

// errHelp is returned when help was requested. The process exits non-zero
// without running anything.
var errHelp = errors.New("help requested")

// transform rewrites the staged output store. Tests swap it to inject
// store failures.
var transform = checksum.Run

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		if !errors.Is(err, errHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := parseArgs(args, stdout)
	if err != nil {
		return err
	}

	closeLog, err := initLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	runID := uuid.New().String()
	prevLogger := slog.Default()
	slog.SetDefault(prevLogger.With("run", runID))
	defer slog.SetDefault(prevLogger)

	log.Info("starting",
		"input", cfg.Paths.Input,
		"output", cfg.Paths.Output,
		"threads", cfg.Checksum.Workers,
		"batch_size", cfg.Checksum.BatchSize,
		"log_level", cfg.Logging.Level)

	storeOpts := boltstore.Options{
		File:    cfg.Store.File,
		Timeout: cfg.Store.OpenTimeout(),
		NoSync:  cfg.Store.NoSync,
	}

	if cfg.Paths.WriteOnly {
		log.Info("creating random store", "path", cfg.Paths.Input)
		rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		summary, err := fixture.Generate(cfg.Paths.Input, storeOpts, fixture.DefaultOptions(), rng)
		if err != nil {
			return fmt.Errorf("generating fixture: %w", err)
		}
		log.Info("fixture created", "path", cfg.Paths.Input, "partitions", len(summary))
		return nil
	}

	if err := stage.Prepare(cfg.Paths.Input, cfg.Paths.Output); err != nil {
		return err
	}
	report, err := transform(ctx, cfg.Paths.Output, storeOpts, checksum.Options{
		Workers:   cfg.Checksum.Workers,
		BatchSize: cfg.Checksum.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("checksum %s: %w", cfg.Paths.Output, err)
	}
	log.Info("done", "output", cfg.Paths.Output, "rows", report.Rows, "elapsed", report.Elapsed)
	return nil
}

// parseArgs builds the run configuration: defaults, then the optional
// config file, then any flags given explicitly on the command line.
func parseArgs(args []string, stdout io.Writer) (*config.Config, error) {
	defaults := config.Defaults()

	flagSet := pflag.NewFlagSet("dbcs", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	configPath := flagSet.String("config", "", "path to a TOML config file")
	logLevel := flagSet.String("log-level", defaults.Logging.Level, "debug, info, warning or error level")
	logFormat := flagSet.String("log-format", defaults.Logging.Format, "auto, text or json")
	logFile := flagSet.String("log-file", "", "also write every log record as JSON to this file")
	threads := flagSet.Int("thread-count", defaults.Checksum.Workers, "threads amount")
	batchSize := flagSet.Int("batch-size", defaults.Checksum.BatchSize, "rows hashed per task")
	output := flagSet.String("output", config.DefaultOutput, "output path (default dbcs-<input>)")
	writeOnly := flagSet.Bool("write-only", false, "create a random store at the input path")
	help := flagSet.BoolP("help", "h", false, "prints help message")
	_ = flagSet.MarkHidden("write-only")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flagSet)
			return nil, errHelp
		}
		return nil, err
	}
	if *help {
		printHelp(stdout, flagSet)
		return nil, errHelp
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if flagSet.Changed("log-format") {
		cfg.Logging.Format = *logFormat
	}
	if flagSet.Changed("log-file") {
		cfg.Logging.File = *logFile
	}
	if flagSet.Changed("thread-count") {
		cfg.Checksum.Workers = *threads
	}
	if flagSet.Changed("batch-size") {
		cfg.Checksum.BatchSize = *batchSize
	}
	if flagSet.Changed("output") {
		cfg.Paths.Output = *output
	}
	if flagSet.Changed("write-only") {
		cfg.Paths.WriteOnly = *writeOnly
	}

	switch positional := flagSet.Args(); len(positional) {
	case 0:
	case 1:
		cfg.Paths.Input = positional[0]
	default:
		return nil, fmt.Errorf("expected one input path, got %d", len(positional))
	}

	cfg.Paths.Input = config.ExpandHome(cfg.Paths.Input)
	cfg.Paths.Output = config.ExpandHome(cfg.Paths.Output)
	cfg.ResolveOutput()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: dbcs [options] <input>\n\nAvailable options:\n%s", flagSet.FlagUsages())
}

// initLogging installs the global logger and returns a func that closes
// the log file, if one was opened.
func initLogging(cfg config.LoggingConfig) (func(), error) {
	opts := logging.Options{Level: cfg.Level, Format: cfg.Format}
	if cfg.File == "" {
		logging.Init(opts)
		return func() {}, nil
	}

	path := config.ExpandHome(cfg.File)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	opts.File = f
	logging.Init(opts)
	return func() { f.Close() }, nil
}
