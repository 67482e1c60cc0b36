// Package harvest runs a batch: it reads the dataset catalog and drives each
// dataset through metadata validation, endpoint resolution, transformation,
// EDM validation and publication. One dataset failing never stops the batch.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/edm-harvester/internal/catalog"
	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/publish"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/resolver"
	"github.com/animus-labs/edm-harvester/internal/shacl"
	"github.com/animus-labs/edm-harvester/internal/transform"
)

var ErrCatalogFetch = errors.New("catalog fetch failed")

const (
	DefaultReportGraph = "urn:edm-harvester:validation-report"
	DefaultReportName  = "harvestReport"
	reportTitle        = "Harvest validation report"
)

// Config carries everything a batch needs besides its collaborators.
type Config struct {
	RegistryEndpoint string
	CatalogQuery     string
	MetadataQuery    string
	DatasetShapes    *shacl.Shapes
	EDMShapes        *shacl.Shapes
	Templates        []transform.Template
	// ReportGraph names the shared violation report graph.
	ReportGraph string
	// ReportName is the publication name of the report graph.
	ReportName string
}

func (c Config) Validate() error {
	var issues []string
	if strings.TrimSpace(c.RegistryEndpoint) == "" {
		issues = append(issues, "registry endpoint is required")
	}
	if strings.TrimSpace(c.CatalogQuery) == "" {
		issues = append(issues, "catalog query is required")
	}
	if strings.TrimSpace(c.MetadataQuery) == "" {
		issues = append(issues, "metadata query is required")
	}
	if len(c.Templates) == 0 {
		issues = append(issues, "at least one transform template is required")
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid harvest config: %s", strings.Join(issues, "; "))
	}
	return nil
}

type Resolver interface {
	Resolve(ctx context.Context, d *domain.Descriptor) (resolver.Handle, error)
}

type Transformer interface {
	Run(ctx context.Context, d domain.Descriptor, h resolver.Handle, tmpl transform.Template, out *rdf.Store) (transform.Stats, error)
}

// Ledger persists outcomes. Failures are logged and otherwise ignored.
type Ledger interface {
	RecordOutcome(ctx context.Context, runID string, o domain.Outcome) error
	RecordPublication(ctx context.Context, runID, iri, target, location string, quads int) error
}

type Deps struct {
	Engine      catalog.Querier
	Resolver    Resolver
	Transformer Transformer
	Publishers  []publish.Publisher
	// Ledger is optional.
	Ledger Ledger
	Logger *slog.Logger
}

// Options select what one batch does.
type Options struct {
	// Datasets restricts the batch to these dataset IRIs when non-empty.
	Datasets []string
	// DryRun runs every step except publication.
	DryRun bool
}

type Orchestrator struct {
	cfg         Config
	catalog     *catalog.Catalog
	resolver    Resolver
	transformer Transformer
	publishers  []publish.Publisher
	ledger      Ledger
	validator   shacl.Validator
	logger      *slog.Logger
	now         func() time.Time
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Engine == nil || deps.Resolver == nil || deps.Transformer == nil {
		return nil, errors.New("engine, resolver and transformer are required")
	}
	if cfg.ReportGraph == "" {
		cfg.ReportGraph = DefaultReportGraph
	}
	if cfg.ReportName == "" {
		cfg.ReportName = DefaultReportName
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:         cfg,
		catalog:     catalog.New(deps.Engine, cfg.RegistryEndpoint, cfg.CatalogQuery, cfg.MetadataQuery, logger),
		resolver:    deps.Resolver,
		transformer: deps.Transformer,
		publishers:  deps.Publishers,
		ledger:      deps.Ledger,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// batch is the state shared by every sub-pipeline of one run.
type batch struct {
	id     string
	opts   Options
	report *domain.BatchReport
	// violations accumulates the validation reports of all datasets.
	violations *rdf.Store
	graph      rdf.Term
	seq        int
}

// Run executes one batch. The returned error is non-nil only when the batch
// itself could not run: the catalog was unreachable or ctx was cancelled.
// Per-dataset failures are reported in the BatchReport.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*domain.BatchReport, error) {
	b := &batch{
		id:         uuid.NewString(),
		opts:       opts,
		report:     &domain.BatchReport{StartedAt: o.now(), DryRun: opts.DryRun, Totals: map[domain.State]int{}},
		violations: rdf.NewStore(),
		graph:      rdf.IRI(o.cfg.ReportGraph),
	}
	b.report.RunID = b.id
	logger := o.logger.With("run_id", b.id)
	logger.Info("harvest started", "dry_run", opts.DryRun, "filter", len(opts.Datasets))

	finish := func(err error) (*domain.BatchReport, error) {
		b.report.FinishedAt = o.now()
		if err != nil {
			b.report.Error = err.Error()
			logger.Error("harvest aborted", "error", err)
			return b.report, err
		}
		logger.Info("harvest finished",
			"datasets", len(b.report.Datasets),
			"published", b.report.Totals[domain.StatePublished],
			"skipped_invalid", b.report.Totals[domain.StateSkippedInvalid],
			"failed", b.report.Totals[domain.StateFailed],
			"violations", b.report.Violations,
		)
		return b.report, nil
	}

	descriptors, err := o.catalog.Descriptors(ctx)
	if err != nil {
		return finish(fmt.Errorf("%w: %w", ErrCatalogFetch, err))
	}
	descriptors = filterDescriptors(descriptors, opts.Datasets, logger)
	logger.Info("catalog fetched", "datasets", len(descriptors))

	for _, d := range descriptors {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}
		outcome := o.runDataset(ctx, b, d)
		b.report.Add(outcome)
		o.recordOutcome(ctx, b, outcome)
	}

	if err := ctx.Err(); err != nil {
		return finish(err)
	}
	if err := o.publishReport(ctx, b); err != nil {
		// The batch still ran; the report graph is best effort.
		logger.Warn("report graph not published", "error", err)
		b.report.Error = err.Error()
	}
	return finish(nil)
}

func filterDescriptors(all []domain.Descriptor, iris []string, logger *slog.Logger) []domain.Descriptor {
	if len(iris) == 0 {
		return all
	}
	want := make(map[string]bool, len(iris))
	for _, iri := range iris {
		want[strings.TrimSpace(iri)] = false
	}
	var out []domain.Descriptor
	for _, d := range all {
		if _, ok := want[d.IRI]; ok {
			want[d.IRI] = true
			out = append(out, d)
		}
	}
	for iri, found := range want {
		if !found {
			logger.Warn("dataset not in catalog", "dataset_iri", iri)
		}
	}
	return out
}

func (o *Orchestrator) recordOutcome(ctx context.Context, b *batch, outcome domain.Outcome) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.RecordOutcome(ctx, b.id, outcome); err != nil {
		o.logger.Warn("ledger write failed", "run_id", b.id, "dataset_iri", outcome.IRI, "error", err)
	}
}

func (o *Orchestrator) publishReport(ctx context.Context, b *batch) error {
	if b.opts.DryRun || b.violations.Len() == 0 {
		return nil
	}
	artifact := publish.Artifact{
		Name:  o.cfg.ReportName,
		Title: reportTitle,
		Graph: b.graph,
		Quads: b.violations.Quads(),
	}
	var errs []error
	for _, p := range o.publishers {
		location, err := p.Publish(ctx, artifact)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Target(), err))
			continue
		}
		o.logger.Info("report graph published", "run_id", b.id, "location", location, "quads", len(artifact.Quads))
	}
	return errors.Join(errs...)
}
