// Package transform loads the pipeline definition and runs its transform
// templates against a resolved dataset endpoint.
package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/reconcile"
	"github.com/animus-labs/edm-harvester/internal/resolver"
	"github.com/animus-labs/edm-harvester/internal/sparql"
	"github.com/animus-labs/edm-harvester/internal/triply"
)

var ErrTransformQuery = errors.New("transform query failed")

const savedQueryAccept = "application/n-triples"

type Querier interface {
	Select(ctx context.Context, query string, src sparql.Source) (*sparql.Results, error)
	Construct(ctx context.Context, query string, src sparql.Source) ([]rdf.Quad, error)
}

// SavedQueries converges saved queries on the managed store.
type SavedQueries interface {
	EnsureQuery(ctx context.Context, owner, name string, spec reconcile.QuerySpec) (triply.Query, error)
}

// QueryRunner runs saved queries on the managed store.
type QueryRunner interface {
	RunQuery(ctx context.Context, owner, name string, opts triply.RunOptions) ([]byte, error)
}

type RunnerConfig struct {
	PageSize int
}

type Runner struct {
	cfg    RunnerConfig
	engine Querier
	saved  SavedQueries
	runs   QueryRunner
	logger *slog.Logger
}

// Stats counts what one template produced.
type Stats struct {
	Records int
	Quads   int
}

// NewRunner returns a runner. saved and runs may be nil when no managed
// store is configured; managed handles then fail.
func NewRunner(cfg RunnerConfig, engine Querier, saved SavedQueries, runs QueryRunner, logger *slog.Logger) *Runner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, engine: engine, saved: saved, runs: runs, logger: logger}
}

// SavedQueryName is the name of the saved query for a template on a dataset.
func SavedQueryName(datasetIRI, template string) string {
	return resolver.ManagedName(datasetIRI) + "-" + template
}

// Run executes tmpl against h and adds the results to out in the output graph
// of d.
func (r *Runner) Run(ctx context.Context, d domain.Descriptor, h resolver.Handle, tmpl Template, out *rdf.Store) (Stats, error) {
	g := rdf.IRI(d.OutputGraph())
	var (
		stats Stats
		err   error
	)
	switch h := h.(type) {
	case resolver.External:
		stats, err = r.runSPARQL(ctx, sparql.Remote{URL: h.QueryURL, Cached: true}, tmpl, g, out)
	case resolver.InMemory:
		stats, err = r.runSPARQL(ctx, sparql.Local{Store: h.Store}, tmpl, g, out)
	case resolver.Managed:
		stats, err = r.runManaged(ctx, d, h, tmpl, g, out)
	default:
		err = fmt.Errorf("unsupported endpoint %T", h)
	}
	if err != nil {
		return stats, fmt.Errorf("%w: %s: %w", ErrTransformQuery, tmpl.Name, err)
	}
	r.logger.Info("transform finished", "dataset_iri", d.IRI, "template", tmpl.Name, "tier", resolver.TierOf(h), "records", stats.Records, "quads", stats.Quads)
	return stats, nil
}

func (r *Runner) runSPARQL(ctx context.Context, src sparql.Source, tmpl Template, g rdf.Term, out *rdf.Store) (Stats, error) {
	var stats Stats
	if tmpl.Mode == ModeWhole {
		quads, err := r.engine.Construct(ctx, tmpl.Query, src)
		if err != nil {
			return stats, err
		}
		stats.Quads = addInGraph(out, quads, g)
		return stats, nil
	}

	ids, err := r.recordIDs(ctx, tmpl.Records, src)
	if err != nil {
		return stats, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		quads, err := r.engine.Construct(ctx, sparql.Substitute(tmpl.Query, sparql.IDVar, id), src)
		if err != nil {
			return stats, fmt.Errorf("record %s: %w", id.Value, err)
		}
		stats.Records++
		stats.Quads += addInGraph(out, quads, g)
	}
	return stats, nil
}

func (r *Runner) recordIDs(ctx context.Context, query string, src sparql.Source) ([]rdf.Term, error) {
	res, err := r.engine.Select(ctx, query, src)
	if err != nil {
		return nil, fmt.Errorf("records: %w", err)
	}
	var ids []rdf.Term
	for {
		row, ok := res.Next()
		if !ok {
			return ids, nil
		}
		id := row[sparql.IDVar]
		if !id.IsIRI() {
			continue
		}
		ids = append(ids, id)
	}
}

func (r *Runner) runManaged(ctx context.Context, d domain.Descriptor, h resolver.Managed, tmpl Template, g rdf.Term, out *rdf.Store) (Stats, error) {
	var stats Stats
	if r.saved == nil || r.runs == nil {
		return stats, errors.New("managed store not configured")
	}
	owner := h.Dataset.Owner
	name := SavedQueryName(d.IRI, tmpl.Name)
	spec := reconcile.QuerySpec{Text: tmpl.Query, Dataset: h.Dataset}
	if tmpl.Mode == ModePerRecord {
		spec.Variables = []triply.QueryVariable{{Name: sparql.IDVar, TermType: "NamedNode", Required: true}}
	}
	if _, err := r.saved.EnsureQuery(ctx, owner, name, spec); err != nil {
		return stats, err
	}

	if tmpl.Mode == ModeWhole {
		n, err := r.runSaved(ctx, owner, name, nil, g, out)
		stats.Quads = n
		return stats, err
	}

	ids, err := r.recordIDs(ctx, tmpl.Records, sparql.Remote{URL: h.Service.Endpoint})
	if err != nil {
		return stats, err
	}
	for _, id := range ids {
		n, err := r.runSaved(ctx, owner, name, map[string]string{sparql.IDVar: id.Value}, g, out)
		if err != nil {
			return stats, fmt.Errorf("record %s: %w", id.Value, err)
		}
		stats.Records++
		stats.Quads += n
	}
	return stats, nil
}

// runSaved pages through a saved query run until a page comes back short.
func (r *Runner) runSaved(ctx context.Context, owner, name string, vars map[string]string, g rdf.Term, out *rdf.Store) (int, error) {
	total := 0
	for page := 1; ; page++ {
		body, err := r.runs.RunQuery(ctx, owner, name, triply.RunOptions{
			Accept:    savedQueryAccept,
			Page:      page,
			PageSize:  r.cfg.PageSize,
			Variables: vars,
		})
		if err != nil {
			return total, err
		}
		quads, err := rdf.Parse(bytes.NewReader(body), rdf.FormatNTriples, g)
		if err != nil {
			return total, fmt.Errorf("page %d: %w", page, err)
		}
		total += addInGraph(out, quads, g)
		if len(quads) < r.cfg.PageSize {
			return total, nil
		}
	}
}

func addInGraph(out *rdf.Store, quads []rdf.Quad, g rdf.Term) int {
	for i := range quads {
		quads[i].G = g
	}
	return out.AddQuads(quads...)
}
