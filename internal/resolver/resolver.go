// Package resolver picks the cheapest way to query a dataset: an external
// SPARQL endpoint, an in-process store, or a managed TriplyDB dataset.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/animus-labs/edm-harvester/internal/cache"
	"github.com/animus-labs/edm-harvester/internal/contenthash"
	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/fetch"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/triply"
)

const DefaultMaxInMemoryBytes int64 = 20 << 20

var (
	ErrResolutionExhausted = errors.New("no endpoint tier could serve the dataset")
	ErrRemoteProvisioning  = errors.New("managed dataset provisioning failed")
)

// Fetcher is the transport the in-memory tier probes and downloads with.
type Fetcher interface {
	Head(ctx context.Context, rawURL string) (fetch.HeadInfo, error)
	Get(ctx context.Context, rawURL string, header http.Header) (*fetch.Response, error)
}

// Provisioner creates and loads managed datasets.
type Provisioner interface {
	EnsureDataset(ctx context.Context, owner, name, displayName string) (triply.DatasetRef, error)
	ImportFromURL(ctx context.Context, ds triply.DatasetRef, sourceURL string) error
}

// ServiceEnsurer keeps the query service of a managed dataset running.
type ServiceEnsurer interface {
	EnsureService(ctx context.Context, ds triply.DatasetRef, name, kind string) (triply.Service, error)
}

type Config struct {
	// MaxInMemoryBytes is the exclusive upper bound on the advertised size
	// of a dump that is loaded in process.
	MaxInMemoryBytes int64
	// Account owns managed datasets.
	Account string
}

type Resolver struct {
	cfg         Config
	fetcher     Fetcher
	provisioner Provisioner
	services    ServiceEnsurer
	logger      *slog.Logger
}

// New returns a resolver. provisioner and services may both be nil, which
// disables the managed tier.
func New(cfg Config, fetcher Fetcher, provisioner Provisioner, services ServiceEnsurer, logger *slog.Logger) *Resolver {
	if cfg.MaxInMemoryBytes <= 0 {
		cfg.MaxInMemoryBytes = DefaultMaxInMemoryBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, fetcher: fetcher, provisioner: provisioner, services: services, logger: logger}
}

// Resolve returns a handle for d and records the chosen tier on it.
func (r *Resolver) Resolve(ctx context.Context, d *domain.Descriptor) (Handle, error) {
	if d == nil {
		return nil, errors.New("descriptor is required")
	}
	d.Tier = domain.TierNone

	if rdf.IsSPARQLQuery(d.DataFormat) {
		d.Tier = domain.TierExternal
		return External{QueryURL: d.DataURL}, nil
	}

	var reasons []error
	store, err := r.loadInMemory(ctx, d)
	if err == nil {
		d.Tier = domain.TierInMemory
		return InMemory{Store: store}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.logger.Info("in-memory tier unavailable", "dataset_iri", d.IRI, "data_url", d.DataURL, "reason", err)
	reasons = append(reasons, fmt.Errorf("in-memory: %w", err))

	handle, err := r.provision(ctx, d)
	if err == nil {
		d.Tier = domain.TierManaged
		return handle, nil
	}
	r.logger.Warn("managed tier unavailable", "dataset_iri", d.IRI, "reason", err)
	reasons = append(reasons, fmt.Errorf("managed: %w", err))
	return nil, fmt.Errorf("%w: %s: %w", ErrResolutionExhausted, d.IRI, errors.Join(reasons...))
}

func (r *Resolver) loadInMemory(ctx context.Context, d *domain.Descriptor) (*rdf.Store, error) {
	head, err := r.fetcher.Head(ctx, d.DataURL)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if !head.HasLength {
		return nil, errors.New("size unknown")
	}
	if head.ContentLength >= r.cfg.MaxInMemoryBytes {
		return nil, fmt.Errorf("size %d exceeds in-memory limit %d", head.ContentLength, r.cfg.MaxInMemoryBytes)
	}

	resp, err := r.fetcher.Get(ctx, d.DataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	format, err := pickFormat(d, resp.ContentType)
	if err != nil {
		return nil, err
	}
	quads, err := rdf.Parse(bytes.NewReader(resp.Body), format, rdf.Term{})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", format, err)
	}
	store := rdf.NewStore()
	store.AddQuads(quads...)
	if store.Len() == 0 {
		return nil, errors.New("dataset is empty")
	}
	r.logger.Debug("dataset loaded in memory", "dataset_iri", d.IRI, "quads", store.Len(), "from_cache", resp.FromCache)
	return store, nil
}

// pickFormat prefers the catalog's declared format, then the response media
// type, then the file extension once compression suffixes are removed.
func pickFormat(d *domain.Descriptor, contentType string) (rdf.Format, error) {
	if f, err := rdf.FormatFromMediaType(d.DataFormat); err == nil {
		return f, nil
	}
	if f, err := rdf.FormatFromMediaType(contentType); err == nil {
		return f, nil
	}
	p := d.DataURL
	if u, err := url.Parse(d.DataURL); err == nil {
		p = u.Path
	}
	return rdf.FormatFromPath(cache.StripCompressionExt(p))
}

// ManagedName is the remote dataset name used for a dataset IRI.
func ManagedName(iri string) string {
	return contenthash.ForDataset(iri).String()
}

func (r *Resolver) provision(ctx context.Context, d *domain.Descriptor) (Handle, error) {
	if r.provisioner == nil || r.services == nil {
		return nil, errors.New("managed store not configured")
	}
	name := ManagedName(d.IRI)
	ds, err := r.provisioner.EnsureDataset(ctx, r.cfg.Account, name, d.Title)
	if err != nil {
		return nil, fmt.Errorf("%w: ensure dataset %s: %w", ErrRemoteProvisioning, name, err)
	}
	if ds.Owner == "" {
		ds.Owner = r.cfg.Account
	}
	if ds.Graphs == 0 {
		r.logger.Info("importing dataset into managed store", "dataset_iri", d.IRI, "dataset", name, "data_url", d.DataURL)
		if err := r.provisioner.ImportFromURL(ctx, ds, d.DataURL); err != nil {
			return nil, fmt.Errorf("%w: import %s: %w", ErrRemoteProvisioning, d.DataURL, err)
		}
	}
	svc, err := r.services.EnsureService(ctx, ds, "", "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteProvisioning, err)
	}
	return Managed{Dataset: ds, Service: svc}, nil
}
