// Package cache stores fetched payloads on disk, addressed by the hash of the
// logical key that produced them.
//
// An entry is a blob file named after the key plus a CBOR sidecar recording
// how the blob is compressed. The sidecar is written last and acts as the
// commit marker: a blob without a sidecar is treated as absent. Entries are
// never refreshed or expired by Get; only Purge removes them.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/animus-labs/edm-harvester/internal/contenthash"
)

const metaSuffix = ".meta"

type Config struct {
	Root string
	// MemoryEntries bounds the in-process front of decoded payloads.
	// Zero disables it.
	MemoryEntries int
}

// Entry describes one stored payload.
type Entry struct {
	Key         contenthash.Key
	Path        string
	Compressed  bool
	Encoding    Encoding
	Size        int64
	StoredAt    time.Time
	Source      string
	ContentType string
}

// Meta describes a payload being stored.
type Meta struct {
	Encoding    Encoding
	Source      string
	ContentType string
}

type entryMeta struct {
	Key      string    `cbor:"key"`
	Encoding string    `cbor:"encoding"`
	Size     int64     `cbor:"size"`
	StoredAt time.Time `cbor:"stored_at"`
	Source   string    `cbor:"source,omitempty"`
	Type     string    `cbor:"content_type,omitempty"`
}

type Store struct {
	root string

	initOnce sync.Once
	initErr  error

	front *lru.Cache[contenthash.Key, []byte]
}

func New(cfg Config) (*Store, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("root is required")
	}
	s := &Store{root: root}
	if cfg.MemoryEntries > 0 {
		front, err := lru.New[contenthash.Key, []byte](cfg.MemoryEntries)
		if err != nil {
			return nil, fmt.Errorf("memory front: %w", err)
		}
		s.front = front
	}
	return s, nil
}

func (s *Store) Root() string {
	return s.root
}

// Get returns the decoded payload for key. A miss is (nil, false, nil).
func (s *Store) Get(_ context.Context, key contenthash.Key) ([]byte, bool, error) {
	if s == nil {
		return nil, false, fmt.Errorf("store is nil")
	}
	if s.front != nil {
		if data, ok := s.front.Get(key); ok {
			return data, true, nil
		}
	}

	entry, ok, err := s.Entry(key)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, err := os.ReadFile(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	data, err := Decompress(raw, entry.Encoding)
	if err != nil {
		return nil, false, fmt.Errorf("cache entry %s: %w", key, err)
	}
	if s.front != nil {
		s.front.Add(key, data)
	}
	return data, true, nil
}

// Put stores data exactly as given; meta.Encoding records how it is
// compressed so Get can undo it. An existing entry for key is left untouched.
func (s *Store) Put(_ context.Context, key contenthash.Key, data []byte, meta Meta) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	if key.IsZero() {
		return fmt.Errorf("key is required")
	}
	if err := s.ensureRoot(); err != nil {
		return err
	}

	blobPath := s.blobPath(key)
	metaPath := blobPath + metaSuffix
	if _, err := os.Stat(metaPath); err == nil {
		return nil
	}

	if err := writeAtomic(blobPath, data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	raw, err := cbor.Marshal(entryMeta{
		Key:      key.String(),
		Encoding: string(meta.Encoding),
		Size:     int64(len(data)),
		StoredAt: time.Now().UTC(),
		Source:   meta.Source,
		Type:     meta.ContentType,
	})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := writeAtomic(metaPath, raw); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// Entry reads the sidecar for key without touching the blob.
func (s *Store) Entry(key contenthash.Key) (Entry, bool, error) {
	blobPath := s.blobPath(key)
	raw, err := os.ReadFile(blobPath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	var meta entryMeta
	if err := cbor.Unmarshal(raw, &meta); err != nil {
		return Entry{}, false, fmt.Errorf("decode meta %s: %w", key, err)
	}
	enc := Encoding(meta.Encoding)
	return Entry{
		Key:         key,
		Path:        blobPath,
		Compressed:  enc.Compressed(),
		Encoding:    enc,
		Size:        meta.Size,
		StoredAt:    meta.StoredAt,
		Source:      meta.Source,
		ContentType: meta.Type,
	}, true, nil
}

// Purge removes entries stored more than olderThan ago. Zero removes every
// entry. It returns the number of entries removed.
func (s *Store) Purge(_ context.Context, olderThan time.Duration) (int, error) {
	if s == nil {
		return 0, nil
	}
	metas, err := filepath.Glob(filepath.Join(s.root, "*"+metaSuffix))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0
	for _, metaPath := range metas {
		name := strings.TrimSuffix(filepath.Base(metaPath), metaSuffix)
		key, err := contenthash.Parse(name)
		if err != nil {
			continue
		}
		if olderThan > 0 {
			entry, ok, err := s.Entry(key)
			if err != nil || !ok || entry.StoredAt.After(cutoff) {
				continue
			}
		}
		if err := os.Remove(metaPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		_ = os.Remove(s.blobPath(key))
		if s.front != nil {
			s.front.Remove(key)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) ensureRoot() error {
	s.initOnce.Do(func() {
		s.initErr = os.MkdirAll(s.root, 0o755)
	})
	return s.initErr
}

func (s *Store) blobPath(key contenthash.Key) string {
	return filepath.Join(s.root, key.String())
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
