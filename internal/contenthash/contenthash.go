// Package contenthash derives stable 128-bit identifiers from logical keys.
//
// Identifiers are BLAKE3 keyed digests truncated to 16 bytes. They name cache
// blobs on disk and managed datasets on the remote store, so the derivation
// must never change once data exists under those names.
package contenthash

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// Size is the digest length in bytes.
const Size = 16

// Key is a 128-bit digest of a logical identifier.
type Key [Size]byte

type domainKey [32]byte

// Domain separation keys, ASCII zero-padded to 32 bytes.
var (
	cacheDomain = domainKey{
		'h', 'a', 'r', 'v', 'e', 's', 't', '.', 'c', 'a', 'c', 'h', 'e', 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
	datasetDomain = domainKey{
		'h', 'a', 'r', 'v', 'e', 's', 't', '.', 'd', 'a', 't', 'a', 's', 'e', 't', 0,
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// ForRequest hashes a URL, optionally combined with a query text. The empty
// query hashes the URL alone.
func ForRequest(url string, query string) Key {
	if query == "" {
		return keyed(cacheDomain, []byte(url))
	}
	return keyed(cacheDomain, []byte(url+"\n"+query))
}

// ForDataset hashes a dataset IRI.
func ForDataset(iri string) Key {
	return keyed(datasetDomain, []byte(strings.TrimSpace(iri)))
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (k Key) IsZero() bool {
	return k == Key{}
}

// Parse decodes the hex form produced by String.
func Parse(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != Size {
		return k, fmt.Errorf("key must be %d bytes, got %d", Size, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

func keyed(domain domainKey, data []byte) Key {
	hasher, err := blake3.NewKeyed(domain[:])
	if err != nil {
		// NewKeyed only fails on a key that is not 32 bytes.
		panic("contenthash: " + err.Error())
	}
	_, _ = hasher.Write(data)
	var k Key
	copy(k[:], hasher.Sum(nil))
	return k
}
