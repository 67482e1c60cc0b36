package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/animus-labs/edm-harvester/internal/contenthash"
)

func TestStore_CreatesRootLazily(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "cache")
	store, err := New(Config{Root: root})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected root to be absent before first put, stat err=%v", err)
	}
	key := contenthash.ForRequest("https://example.org/a.nt", "")
	if err := store.Put(context.Background(), key, []byte("x"), Meta{Source: "https://example.org/a.nt"}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("expected root after put: %v", err)
	}
}

func TestStore_MissThenHit(t *testing.T) {
	store, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	ctx := context.Background()
	key := contenthash.ForRequest("https://example.org/a.nt", "")

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get() before put ok=%v err=%v, want miss", ok, err)
	}
	payload := []byte("<urn:a> <urn:b> <urn:c> .\n")
	if err := store.Put(ctx, key, payload, Meta{}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get()=%q, want %q", got, payload)
	}
}

func TestStore_DecompressesTransparently(t *testing.T) {
	store, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	ctx := context.Background()
	payload := []byte("<urn:a> <urn:b> \"compressed\" .\n")

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write(payload)
	_ = zw.Close()

	key := contenthash.ForRequest("https://example.org/a.nt.gz", "")
	if err := store.Put(ctx, key, gz.Bytes(), Meta{Encoding: EncodingGzip}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	entry, ok, err := store.Entry(key)
	if err != nil || !ok {
		t.Fatalf("Entry() ok=%v err=%v", ok, err)
	}
	if !entry.Compressed || entry.Encoding != EncodingGzip {
		t.Fatalf("entry=%+v, want compressed gzip", entry)
	}
	got, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get()=%q, want %q", got, payload)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	key := contenthash.ForRequest("https://example.org/sparql", "SELECT * WHERE { ?s ?p ?o }")

	first, err := New(Config{Root: root, MemoryEntries: 4})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	var zst bytes.Buffer
	zw, err := zstd.NewWriter(&zst)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	_, _ = zw.Write([]byte("value"))
	_ = zw.Close()
	if err := first.Put(ctx, key, zst.Bytes(), Meta{Encoding: EncodingZstd}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}

	second, err := New(Config{Root: root})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	got, ok, err := second.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get() after reopen ok=%v err=%v", ok, err)
	}
	if string(got) != "value" {
		t.Fatalf("Get()=%q, want value", got)
	}
}

func TestStore_PutKeepsFirstEntry(t *testing.T) {
	store, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	ctx := context.Background()
	key := contenthash.ForRequest("https://example.org/a", "")
	if err := store.Put(ctx, key, []byte("first"), Meta{}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if err := store.Put(ctx, key, []byte("second"), Meta{}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	got, _, _ := store.Get(ctx, key)
	if string(got) != "first" {
		t.Fatalf("Get()=%q, want first", got)
	}
}

func TestStore_Purge(t *testing.T) {
	store, err := New(Config{Root: t.TempDir(), MemoryEntries: 8})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	ctx := context.Background()
	a := contenthash.ForRequest("https://example.org/a", "")
	b := contenthash.ForRequest("https://example.org/b", "")
	for _, key := range []contenthash.Key{a, b} {
		if err := store.Put(ctx, key, []byte("v"), Meta{}); err != nil {
			t.Fatalf("Put() err=%v", err)
		}
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Fatalf("expected hit before purge")
		}
	}

	removed, err := store.Purge(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Purge(1h) err=%v", err)
	}
	if removed != 0 {
		t.Fatalf("Purge(1h) removed=%d, want 0", removed)
	}

	removed, err = store.Purge(ctx, 0)
	if err != nil {
		t.Fatalf("Purge(0) err=%v", err)
	}
	if removed != 2 {
		t.Fatalf("Purge(0) removed=%d, want 2", removed)
	}
	if _, ok, _ := store.Get(ctx, a); ok {
		t.Fatalf("expected miss after purge")
	}
}

func TestDetectEncoding(t *testing.T) {
	tests := []struct {
		url     string
		header  string
		want    Encoding
		wantErr bool
	}{
		{url: "https://example.org/data.ttl", want: EncodingIdentity},
		{url: "https://example.org/data.nt.gz", want: EncodingGzip},
		{url: "https://example.org/data.nt.gz?download=1", want: EncodingGzip},
		{url: "https://example.org/data.nq.zst", want: EncodingZstd},
		{url: "https://example.org/data.nt.bz2", want: EncodingBzip2},
		{url: "https://example.org/data", header: "gzip", want: EncodingGzip},
		{url: "https://example.org/data", header: "br", wantErr: true},
	}
	for _, tt := range tests {
		got, err := DetectEncoding(tt.url, tt.header)
		if (err != nil) != tt.wantErr {
			t.Fatalf("DetectEncoding(%q,%q) err=%v, wantErr=%v", tt.url, tt.header, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("DetectEncoding(%q,%q)=%q, want %q", tt.url, tt.header, got, tt.want)
		}
	}
	if got := StripCompressionExt("/dump/data.ttl.gz"); got != "/dump/data.ttl" {
		t.Fatalf("StripCompressionExt()=%q", got)
	}
}
