package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/animus-labs/edm-harvester/internal/platform/auth"
	"github.com/animus-labs/edm-harvester/internal/platform/env"
	"github.com/animus-labs/edm-harvester/internal/publish"
	"github.com/animus-labs/edm-harvester/internal/resolver"
	"github.com/animus-labs/edm-harvester/internal/triply"
)

type Config struct {
	RegistryEndpoint   string
	PipelineFile       string
	CacheDir           string
	CacheMemoryEntries int
	InMemoryMaxBytes   int64
	HTTPTimeout        time.Duration
	PublishTargets     []string
	ReportGraph        string
	LogLevel           slog.Level

	Schedule        string
	HTTPAddr        string
	ShutdownTimeout time.Duration
	// API protects /runs when a token is set.
	API auth.Config

	// Triply is used when TRIPLY_API_URL is set. Without it the managed
	// tier and the triply publish target are unavailable.
	Triply        triply.Config
	TriplyEnabled bool
}

func ConfigFromEnv() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	memoryEntries, err := env.Int("HARVEST_CACHE_MEMORY_ENTRIES", 256)
	collect(err)
	maxBytes, err := env.Int64("HARVEST_INMEMORY_MAX_BYTES", resolver.DefaultMaxInMemoryBytes)
	collect(err)
	httpTimeout, err := env.Duration("HARVEST_HTTP_TIMEOUT", 5*time.Minute)
	collect(err)
	shutdownTimeout, err := env.Duration("HARVEST_SHUTDOWN_TIMEOUT", 10*time.Second)
	collect(err)
	pollInterval, err := env.Duration("TRIPLY_IMPORT_POLL_INTERVAL", 5*time.Second)
	collect(err)

	var level slog.Level
	if err := level.UnmarshalText([]byte(env.String("HARVEST_LOG_LEVEL", "info"))); err != nil {
		collect(fmt.Errorf("HARVEST_LOG_LEVEL: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RegistryEndpoint:   strings.TrimSpace(env.String("HARVEST_REGISTRY_ENDPOINT", "")),
		PipelineFile:       env.String("HARVEST_PIPELINE_FILE", "pipeline/pipeline.yaml"),
		CacheDir:           env.String("HARVEST_CACHE_DIR", ".cache/harvester"),
		CacheMemoryEntries: memoryEntries,
		InMemoryMaxBytes:   maxBytes,
		HTTPTimeout:        httpTimeout,
		PublishTargets:     env.List("HARVEST_PUBLISH_TARGETS", []string{publish.TargetTriply}),
		ReportGraph:        env.String("HARVEST_REPORT_GRAPH", ""),
		LogLevel:           level,
		Schedule:           env.String("HARVEST_SCHEDULE", "@daily"),
		HTTPAddr:           env.String("HARVEST_HTTP_ADDR", ":8080"),
		ShutdownTimeout:    shutdownTimeout,
		API:                auth.ConfigFromEnv(),
		Triply: triply.Config{
			BaseURL:      strings.TrimSpace(env.String("TRIPLY_API_URL", "")),
			Token:        env.String("TRIPLY_TOKEN", ""),
			Account:      env.String("TRIPLY_ACCOUNT", ""),
			PollInterval: pollInterval,
			Timeout:      httpTimeout,
		},
	}
	cfg.TriplyEnabled = cfg.Triply.BaseURL != ""
	return cfg, nil
}

// Validate checks the settings every subcommand except cache purge needs.
func (c Config) Validate() error {
	var issues []string
	if c.RegistryEndpoint == "" {
		issues = append(issues, "HARVEST_REGISTRY_ENDPOINT is required")
	}
	if strings.TrimSpace(c.PipelineFile) == "" {
		issues = append(issues, "HARVEST_PIPELINE_FILE is required")
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		issues = append(issues, "HARVEST_CACHE_DIR is required")
	}
	if c.CacheMemoryEntries < 0 {
		issues = append(issues, "HARVEST_CACHE_MEMORY_ENTRIES must be >= 0")
	}
	if c.InMemoryMaxBytes <= 0 {
		issues = append(issues, "HARVEST_INMEMORY_MAX_BYTES must be positive")
	}
	if c.HTTPTimeout <= 0 {
		issues = append(issues, "HARVEST_HTTP_TIMEOUT must be positive")
	}

	targets, err := publish.ParseTargets(c.PublishTargets)
	switch {
	case err != nil:
		issues = append(issues, "HARVEST_PUBLISH_TARGETS: "+err.Error())
	case len(targets) == 0:
		issues = append(issues, "HARVEST_PUBLISH_TARGETS must name at least one target")
	}
	for _, t := range targets {
		if t == publish.TargetTriply && !c.TriplyEnabled {
			issues = append(issues, "publish target triply requires TRIPLY_API_URL")
		}
	}
	if c.TriplyEnabled {
		if err := c.Triply.Validate(); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(issues, "; "))
	}
	return nil
}

// ValidateServe additionally checks the serve-mode settings.
func (c Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("HARVEST_HTTP_ADDR is required")
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("HARVEST_SCHEDULE: %w", err)
	}
	return c.API.Validate()
}

func (c Config) hasTarget(name string) bool {
	for _, t := range c.PublishTargets {
		if strings.EqualFold(strings.TrimSpace(t), name) {
			return true
		}
	}
	return false
}
