package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/animus-labs/edm-harvester/internal/cache"
	"github.com/animus-labs/edm-harvester/internal/harvest"
	"github.com/animus-labs/edm-harvester/internal/platform/env"
)

const usage = `usage: harvester <command> [flags]

commands:
  run                     harvest the catalog once and print the batch report
  serve                   run batches on HARVEST_SCHEDULE and serve /runs
  cache purge             remove cached payloads
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	}

	bootLogger := slog.New(slog.NewJSONHandler(stderr, nil))
	if err := env.Load(".env"); err != nil {
		bootLogger.Error("invalid .env file", "error", err)
		return 2
	}
	cfg, err := ConfigFromEnv()
	if err != nil {
		bootLogger.Error("invalid env", "error", err)
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "run":
		return runBatch(ctx, cfg, logger, args[1:], stdout, stderr)
	case "serve":
		return serve(ctx, cfg, logger, args[1:], stderr)
	case "cache":
		if len(args) < 2 || args[1] != "purge" {
			fmt.Fprint(stderr, usage)
			return 2
		}
		return purgeCache(ctx, cfg, logger, args[2:], stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}

// exitCode maps a setup error to the process exit code.
func exitCode(logger *slog.Logger, err error) int {
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		logger.Error("invalid configuration", "error", err)
		return 2
	}
	logger.Error("startup failed", "error", err)
	return 1
}

func runBatch(ctx context.Context, cfg Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	datasets := flags.StringArray("dataset", nil, "restrict the batch to this dataset IRI (repeatable)")
	dryRun := flags.Bool("dry-run", false, "run every step except publication")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return 2
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return exitCode(logger, err)
	}
	defer a.Close()

	report, err := a.orchestrator.Run(ctx, harvest.Options{Datasets: *datasets, DryRun: *dryRun})
	if report != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			logger.Error("write report", "error", encErr)
		}
	}
	if err != nil {
		logger.Error("batch failed", "error", err)
		return 1
	}
	return 0
}

func purgeCache(ctx context.Context, cfg Config, logger *slog.Logger, args []string, stderr io.Writer) int {
	flags := pflag.NewFlagSet("cache purge", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	olderThan := flags.Duration("older-than", 0, "only remove entries stored longer ago than this (0 removes all)")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *olderThan < 0 {
		logger.Error("invalid flag", "error", "--older-than must not be negative")
		return 2
	}

	store, err := cache.New(cache.Config{Root: cfg.CacheDir})
	if err != nil {
		logger.Error("invalid cache config", "error", err)
		return 2
	}
	start := time.Now()
	removed, err := store.Purge(ctx, *olderThan)
	if err != nil {
		logger.Error("cache purge failed", "error", err, "removed", removed)
		return 1
	}
	logger.Info("cache purged", "root", store.Root(), "removed", removed, "older_than", olderThan.String(), "duration_ms", time.Since(start).Milliseconds())
	return 0
}

func cacheWritable(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(root, ".ready-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
