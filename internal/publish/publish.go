// Package publish writes transformed dataset graphs to their destinations.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/animus-labs/edm-harvester/internal/platform/objectstore"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/triply"
)

const (
	TargetTriply = "triply"
	TargetS3     = "s3"
)

// Artifact is one graph ready for publication.
type Artifact struct {
	Name  string
	Title string
	Graph rdf.Term
	Quads []rdf.Quad
}

// Publisher stores an artifact and returns where it went.
type Publisher interface {
	Target() string
	Publish(ctx context.Context, a Artifact) (string, error)
}

func encodeNQuads(quads []rdf.Quad) ([]byte, error) {
	var buf bytes.Buffer
	if err := rdf.Serialize(&buf, quads, rdf.FormatNQuads); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TriplyTarget is the part of the TriplyDB client the publisher uses.
type TriplyTarget interface {
	EnsureDataset(ctx context.Context, owner, name, displayName string) (triply.DatasetRef, error)
	DeleteGraph(ctx context.Context, ds triply.DatasetRef, graph string) error
	ImportFile(ctx context.Context, ds triply.DatasetRef, filename string, data []byte) error
	UploadAsset(ctx context.Context, ds triply.DatasetRef, filename string, body io.Reader) error
}

// Triply publishes each artifact as its own TriplyDB dataset. The graph is
// replaced on every run and a gzipped dump is attached as an asset.
type Triply struct {
	client  TriplyTarget
	account string
	logger  *slog.Logger
}

func NewTriply(client TriplyTarget, account string, logger *slog.Logger) *Triply {
	if logger == nil {
		logger = slog.Default()
	}
	return &Triply{client: client, account: account, logger: logger}
}

func (p *Triply) Target() string { return TargetTriply }

func (p *Triply) Publish(ctx context.Context, a Artifact) (string, error) {
	ds, err := p.client.EnsureDataset(ctx, p.account, a.Name, a.Title)
	if err != nil {
		return "", fmt.Errorf("ensure dataset %s: %w", a.Name, err)
	}
	if !a.Graph.IsZero() {
		if err := p.client.DeleteGraph(ctx, ds, a.Graph.Value); err != nil {
			return "", fmt.Errorf("replace graph %s: %w", a.Graph.Value, err)
		}
	}
	data, err := encodeNQuads(a.Quads)
	if err != nil {
		return "", err
	}
	if err := p.client.ImportFile(ctx, ds, a.Name+".nq", data); err != nil {
		return "", err
	}
	gz, err := gzipBytes(data)
	if err != nil {
		return "", err
	}
	if err := p.client.UploadAsset(ctx, ds, a.Name+".nq.gz", bytes.NewReader(gz)); err != nil {
		return "", err
	}
	location := TargetTriply + ":" + p.account + "/" + a.Name
	p.logger.Info("published", "target", TargetTriply, "location", location, "quads", len(a.Quads))
	return location, nil
}

// S3 publishes gzipped N-Quads dumps into the publish bucket.
type S3 struct {
	store  objectstore.Store
	logger *slog.Logger
}

func NewS3(store objectstore.Store, logger *slog.Logger) *S3 {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{store: store, logger: logger}
}

func (p *S3) Target() string { return TargetS3 }

func (p *S3) Publish(ctx context.Context, a Artifact) (string, error) {
	data, err := encodeNQuads(a.Quads)
	if err != nil {
		return "", err
	}
	gz, err := gzipBytes(data)
	if err != nil {
		return "", err
	}
	location, err := p.store.Put(ctx, a.Name+".nq.gz", bytes.NewReader(gz), int64(len(gz)), "application/gzip")
	if err != nil {
		return "", err
	}
	p.logger.Info("published", "target", TargetS3, "location", location, "quads", len(a.Quads))
	return location, nil
}

// ParseTargets validates a list of target names.
func ParseTargets(names []string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case TargetTriply, TargetS3:
		default:
			return nil, fmt.Errorf("unknown publish target %q", raw)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}
