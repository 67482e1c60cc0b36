// Package catalog reads dataset descriptors and dataset metadata from the
// dataset registry's SPARQL endpoint.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/sparql"
)

// Variables the catalog query must project. Only dataset and url are
// required.
const (
	VarDataset = "dataset"
	VarURL     = "url"
	VarFormat  = "format"
	VarTitle   = "title"
)

type Querier interface {
	Select(ctx context.Context, query string, src sparql.Source) (*sparql.Results, error)
	Construct(ctx context.Context, query string, src sparql.Source) ([]rdf.Quad, error)
}

type Catalog struct {
	endpoint      string
	catalogQuery  string
	metadataQuery string
	q             Querier
	logger        *slog.Logger
}

func New(q Querier, endpoint, catalogQuery, metadataQuery string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		endpoint:      endpoint,
		catalogQuery:  catalogQuery,
		metadataQuery: metadataQuery,
		q:             q,
		logger:        logger,
	}
}

// Descriptors runs the catalog query. A dataset listed with several
// distributions yields one descriptor: a SPARQL endpoint distribution wins,
// otherwise the first row seen. Order follows first appearance.
func (c *Catalog) Descriptors(ctx context.Context) ([]domain.Descriptor, error) {
	res, err := c.q.Select(ctx, c.catalogQuery, sparql.Remote{URL: c.endpoint})
	if err != nil {
		return nil, err
	}
	var (
		out   []domain.Descriptor
		index = map[string]int{}
	)
	for {
		row, ok := res.Next()
		if !ok {
			break
		}
		iri := row[VarDataset]
		if !iri.IsIRI() {
			c.logger.Debug("catalog row without dataset iri skipped")
			continue
		}
		d := domain.Descriptor{
			IRI:        iri.Value,
			DataURL:    strings.TrimSpace(row[VarURL].Value),
			DataFormat: strings.TrimSpace(row[VarFormat].Value),
			Title:      strings.TrimSpace(row[VarTitle].Value),
		}
		i, seen := index[d.IRI]
		if !seen {
			index[d.IRI] = len(out)
			out = append(out, d)
			continue
		}
		prev := &out[i]
		if rdf.IsSPARQLQuery(d.DataFormat) && !rdf.IsSPARQLQuery(prev.DataFormat) {
			title := prev.Title
			*prev = d
			if prev.Title == "" {
				prev.Title = title
			}
		} else if prev.Title == "" {
			prev.Title = d.Title
		}
	}
	return out, nil
}

// Metadata runs the metadata template for one dataset. The ?id placeholder
// is bound to the dataset IRI.
func (c *Catalog) Metadata(ctx context.Context, iri string) ([]rdf.Quad, error) {
	quads, err := c.q.Construct(ctx, sparql.BindID(c.metadataQuery, iri), sparql.Remote{URL: c.endpoint})
	if err != nil {
		return nil, fmt.Errorf("metadata for %s: %w", iri, err)
	}
	return quads, nil
}
