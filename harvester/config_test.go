package main

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func clearHarvestEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HARVEST_REGISTRY_ENDPOINT", "HARVEST_PIPELINE_FILE", "HARVEST_CACHE_DIR",
		"HARVEST_CACHE_MEMORY_ENTRIES", "HARVEST_INMEMORY_MAX_BYTES", "HARVEST_HTTP_TIMEOUT",
		"HARVEST_PUBLISH_TARGETS", "HARVEST_LOG_LEVEL", "HARVEST_SCHEDULE", "HARVEST_HTTP_ADDR",
		"HARVEST_REPORT_GRAPH", "HARVEST_SHUTDOWN_TIMEOUT", "HARVEST_API_TOKEN", "HARVEST_API_READ_TOKEN",
		"TRIPLY_API_URL", "TRIPLY_TOKEN", "TRIPLY_ACCOUNT", "TRIPLY_IMPORT_POLL_INTERVAL",
		"DATABASE_URL",
	} {
		// Setenv restores the original value after the test.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	clearHarvestEnv(t)
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.InMemoryMaxBytes != 20<<20 || cfg.HTTPTimeout != 5*time.Minute || cfg.Schedule != "@daily" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.TriplyEnabled || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.PublishTargets) != 1 || cfg.PublishTargets[0] != "triply" {
		t.Fatalf("targets=%v", cfg.PublishTargets)
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	clearHarvestEnv(t)
	t.Setenv("HARVEST_REGISTRY_ENDPOINT", "https://registry.example.org/sparql")
	t.Setenv("HARVEST_PUBLISH_TARGETS", "s3, triply")
	t.Setenv("HARVEST_INMEMORY_MAX_BYTES", "1024")
	t.Setenv("HARVEST_LOG_LEVEL", "debug")
	t.Setenv("TRIPLY_API_URL", "https://api.triply.example")
	t.Setenv("TRIPLY_TOKEN", "secret")
	t.Setenv("TRIPLY_ACCOUNT", "acme")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if !cfg.TriplyEnabled || cfg.Triply.Account != "acme" || cfg.InMemoryMaxBytes != 1024 || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("cfg=%+v", cfg)
	}
	if !cfg.hasTarget("s3") || !cfg.hasTarget("triply") {
		t.Fatalf("targets=%v", cfg.PublishTargets)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	clearHarvestEnv(t)
	t.Setenv("HARVEST_HTTP_TIMEOUT", "soon")
	t.Setenv("HARVEST_LOG_LEVEL", "loud")
	_, err := ConfigFromEnv()
	if err == nil {
		t.Fatalf("ConfigFromEnv() expected error")
	}
	if !strings.Contains(err.Error(), "HARVEST_LOG_LEVEL") {
		t.Fatalf("err=%v, want both problems reported", err)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			RegistryEndpoint: "https://registry.example.org/sparql",
			PipelineFile:     "pipeline.yaml",
			CacheDir:         t.TempDir(),
			InMemoryMaxBytes: 1,
			HTTPTimeout:      time.Second,
			PublishTargets:   []string{"s3"},
			Schedule:         "@daily",
			HTTPAddr:         ":8080",
		}
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing registry", func(c *Config) { c.RegistryEndpoint = "" }, "HARVEST_REGISTRY_ENDPOINT"},
		{"unknown target", func(c *Config) { c.PublishTargets = []string{"ftp"} }, "HARVEST_PUBLISH_TARGETS"},
		{"no target", func(c *Config) { c.PublishTargets = nil }, "at least one target"},
		{"triply without api", func(c *Config) { c.PublishTargets = []string{"triply"} }, "TRIPLY_API_URL"},
		{"triply incomplete", func(c *Config) {
			c.TriplyEnabled = true
			c.Triply.BaseURL = "https://api.triply.example"
		}, "TRIPLY_TOKEN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() err=%v, want %q", err, tt.want)
			}
		})
	}
	if err := valid().ValidateServe(); err != nil {
		t.Fatalf("ValidateServe() err=%v", err)
	}
	cfg := valid()
	cfg.Schedule = "every tuesday"
	if err := cfg.ValidateServe(); err == nil {
		t.Fatalf("ValidateServe() expected schedule error")
	}
	cfg = valid()
	cfg.API.OperatorToken, cfg.API.ReaderToken = "same", "same"
	if err := cfg.ValidateServe(); err == nil {
		t.Fatalf("ValidateServe() expected token error")
	}
}
