package cache

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Encoding names the compression applied to a stored payload.
type Encoding string

const (
	EncodingIdentity Encoding = ""
	EncodingGzip     Encoding = "gzip"
	EncodingDeflate  Encoding = "deflate"
	EncodingZstd     Encoding = "zstd"
	EncodingLZ4      Encoding = "lz4"
	EncodingBzip2    Encoding = "bzip2"
)

func (e Encoding) Compressed() bool {
	return e != EncodingIdentity
}

func (e Encoding) String() string {
	if e == EncodingIdentity {
		return "identity"
	}
	return string(e)
}

// ParseEncoding maps a Content-Encoding header value to an Encoding.
// Unknown values yield an error so callers never store bytes they cannot read back.
func ParseEncoding(value string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "identity":
		return EncodingIdentity, nil
	case "gzip", "x-gzip":
		return EncodingGzip, nil
	case "deflate":
		return EncodingDeflate, nil
	case "zstd":
		return EncodingZstd, nil
	case "lz4":
		return EncodingLZ4, nil
	case "bzip2", "x-bzip2":
		return EncodingBzip2, nil
	default:
		return EncodingIdentity, fmt.Errorf("unsupported content encoding %q", value)
	}
}

// DetectEncoding determines payload compression from the URL file extension,
// falling back to the Content-Encoding response header.
func DetectEncoding(rawURL string, contentEncoding string) (Encoding, error) {
	if enc, ok := encodingFromExtension(rawURL); ok {
		return enc, nil
	}
	return ParseEncoding(contentEncoding)
}

func encodingFromExtension(rawURL string) (Encoding, bool) {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".gz", ".gzip":
		return EncodingGzip, true
	case ".zst", ".zstd":
		return EncodingZstd, true
	case ".lz4":
		return EncodingLZ4, true
	case ".bz2":
		return EncodingBzip2, true
	default:
		return EncodingIdentity, false
	}
}

// StripCompressionExt removes a trailing compression extension so the inner
// file extension (".ttl", ".nt") can be inspected.
func StripCompressionExt(p string) string {
	if _, ok := encodingFromExtension(p); ok {
		return strings.TrimSuffix(p, path.Ext(p))
	}
	return p
}

// NewReader wraps r with a decompressor for enc.
func NewReader(r io.Reader, enc Encoding) (io.ReadCloser, error) {
	switch enc {
	case EncodingIdentity:
		return io.NopCloser(r), nil
	case EncodingGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case EncodingDeflate:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return zr, nil
	case EncodingZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	case EncodingLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case EncodingBzip2:
		return io.NopCloser(bzip2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", string(enc))
	}
}

// Decompress returns the decoded form of data.
func Decompress(data []byte, enc Encoding) ([]byte, error) {
	if !enc.Compressed() {
		return data, nil
	}
	rc, err := NewReader(bytes.NewReader(data), enc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	out, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", enc, err)
	}
	return out, nil
}
