package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/animus-labs/edm-harvester/internal/cache"
	"github.com/animus-labs/edm-harvester/internal/contenthash"
)

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 2},
		{"help", []string{"help"}, 0},
		{"unknown", []string{"harvest"}, 2},
		{"cache without purge", []string{"cache"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearHarvestEnv(t)
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.code {
				t.Fatalf("run(%v)=%d, want %d (stderr=%s)", tt.args, code, tt.code, stderr.String())
			}
			if !strings.Contains(stdout.String()+stderr.String(), "usage: harvester") {
				t.Fatalf("usage not printed")
			}
		})
	}
}

func TestRun_ConfigErrorExitsTwo(t *testing.T) {
	clearHarvestEnv(t)
	var stdout, stderr bytes.Buffer
	if code := run([]string{"run", "--dry-run"}, &stdout, &stderr); code != 2 {
		t.Fatalf("run()=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "HARVEST_REGISTRY_ENDPOINT") {
		t.Fatalf("stderr=%s", stderr.String())
	}
}

func TestRun_MissingPipelineExitsTwo(t *testing.T) {
	clearHarvestEnv(t)
	t.Setenv("HARVEST_REGISTRY_ENDPOINT", "https://registry.example.org/sparql")
	t.Setenv("HARVEST_PIPELINE_FILE", t.TempDir()+"/missing.yaml")
	t.Setenv("HARVEST_CACHE_DIR", t.TempDir())
	t.Setenv("HARVEST_PUBLISH_TARGETS", "triply")
	t.Setenv("TRIPLY_API_URL", "https://api.triply.example")
	t.Setenv("TRIPLY_TOKEN", "secret")
	t.Setenv("TRIPLY_ACCOUNT", "acme")

	var stdout, stderr bytes.Buffer
	if code := run([]string{"run"}, &stdout, &stderr); code != 2 {
		t.Fatalf("run()=%d, want 2 (stderr=%s)", code, stderr.String())
	}
}

func TestRun_CachePurge(t *testing.T) {
	clearHarvestEnv(t)
	root := t.TempDir()
	t.Setenv("HARVEST_CACHE_DIR", root)

	store, err := cache.New(cache.Config{Root: root})
	if err != nil {
		t.Fatalf("cache.New() err=%v", err)
	}
	key := contenthash.ForRequest("https://files.example.org/rise.ttl", "")
	if err := store.Put(context.Background(), key, []byte("<a> <b> <c> ."), cache.Meta{}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}

	var stdout, stderr bytes.Buffer
	if code := run([]string{"cache", "purge", "--older-than", "1h"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run()=%d (stderr=%s)", code, stderr.String())
	}
	if _, ok, _ := store.Entry(key); !ok {
		t.Fatalf("fresh entry purged by --older-than")
	}

	if code := run([]string{"cache", "purge"}, &stdout, &stderr); code != 0 {
		t.Fatalf("run()=%d (stderr=%s)", code, stderr.String())
	}
	if _, ok, _ := store.Entry(key); ok {
		t.Fatalf("entry survived purge")
	}
	if !strings.Contains(stderr.String(), `"removed":1`) {
		t.Fatalf("stderr=%s", stderr.String())
	}
}

func TestCacheWritable(t *testing.T) {
	if err := cacheWritable(t.TempDir() + "/nested/cache"); err != nil {
		t.Fatalf("cacheWritable() err=%v", err)
	}
}
