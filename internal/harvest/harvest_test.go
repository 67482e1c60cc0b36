package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/animus-labs/edm-harvester/internal/catalog"
	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/publish"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/resolver"
	"github.com/animus-labs/edm-harvester/internal/shacl"
	"github.com/animus-labs/edm-harvester/internal/sparql"
	"github.com/animus-labs/edm-harvester/internal/transform"
)

const (
	riseIRI   = "https://data.example.org/dataset/rise"
	brokenIRI = "https://data.example.org/dataset/broken"
	goneIRI   = "https://data.example.org/dataset/gone"
)

type stubEngine struct {
	rows       []sparql.Binding
	selectErr  error
	metadata   map[string][]rdf.Quad
	constructs int
}

func (s *stubEngine) Select(context.Context, string, sparql.Source) (*sparql.Results, error) {
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	return sparql.NewResults([]string{catalog.VarDataset, catalog.VarURL, catalog.VarTitle}, s.rows), nil
}

func (s *stubEngine) Construct(_ context.Context, query string, _ sparql.Source) ([]rdf.Quad, error) {
	s.constructs++
	for iri, quads := range s.metadata {
		if strings.Contains(query, "<"+iri+">") {
			return quads, nil
		}
	}
	return nil, nil
}

func row(iri, dataURL, title string) sparql.Binding {
	b := sparql.Binding{catalog.VarDataset: rdf.IRI(iri), catalog.VarURL: rdf.Literal(dataURL)}
	if title != "" {
		b[catalog.VarTitle] = rdf.Literal(title)
	}
	return b
}

type stubResolver struct {
	errs map[string]error
}

func (s *stubResolver) Resolve(_ context.Context, d *domain.Descriptor) (resolver.Handle, error) {
	if err := s.errs[d.IRI]; err != nil {
		return nil, err
	}
	return resolver.InMemory{Store: rdf.NewStore()}, nil
}

type stubTransformer struct {
	panicFor string
	calls    []string
}

func (s *stubTransformer) Run(_ context.Context, d domain.Descriptor, _ resolver.Handle, tmpl transform.Template, out *rdf.Store) (transform.Stats, error) {
	s.calls = append(s.calls, d.IRI+" "+tmpl.Name)
	if d.IRI == s.panicFor {
		panic("template blew up")
	}
	g := rdf.IRI(d.OutputGraph())
	cho := rdf.IRI(d.IRI + "/record/1")
	n := out.AddQuads(
		rdf.NewQuad(cho, rdf.IRI(rdf.RDFType), rdf.IRI(rdf.EDMNS+"ProvidedCHO"), g),
		rdf.NewQuad(cho, rdf.IRI(rdf.EDMNS+"type"), rdf.Literal("IMAGE"), g),
	)
	return transform.Stats{Records: 1, Quads: n}, nil
}

type stubPublisher struct {
	artifacts []publish.Artifact
	err       error
}

func (s *stubPublisher) Target() string { return "stub" }

func (s *stubPublisher) Publish(_ context.Context, a publish.Artifact) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.artifacts = append(s.artifacts, a)
	return "stub:" + a.Name, nil
}

func (s *stubPublisher) artifact(name string) (publish.Artifact, bool) {
	for _, a := range s.artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return publish.Artifact{}, false
}

type stubLedger struct {
	outcomes     []domain.Outcome
	publications []string
	err          error
}

func (s *stubLedger) RecordOutcome(_ context.Context, _ string, o domain.Outcome) error {
	s.outcomes = append(s.outcomes, o)
	return s.err
}

func (s *stubLedger) RecordPublication(_ context.Context, _, iri, target, location string, _ int) error {
	s.publications = append(s.publications, iri+" "+target+" "+location)
	return s.err
}

const edmShapes = `@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix edm: <http://www.europeana.eu/schemas/edm/> .
@prefix dc: <http://purl.org/dc/elements/1.1/> .
@prefix ex: <https://example.org/shapes/> .

ex:ProvidedCHO a sh:NodeShape ;
    sh:targetClass edm:ProvidedCHO ;
    sh:property [ sh:path dc:title ; sh:minCount 1 ] .
`

func shapes(t *testing.T, doc string) *shacl.Shapes {
	t.Helper()
	quads, err := rdf.ParseString(doc, rdf.FormatTurtle)
	if err != nil {
		t.Fatalf("parse shapes: %v", err)
	}
	s, err := shacl.ParseShapes(quads)
	if err != nil {
		t.Fatalf("ParseShapes() err=%v", err)
	}
	return s
}

type fixture struct {
	engine      *stubEngine
	resolver    *stubResolver
	transformer *stubTransformer
	publisher   *stubPublisher
	ledger      *stubLedger
	cfg         Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		engine: &stubEngine{
			rows: []sparql.Binding{
				row(riseIRI, "https://files.example.org/rise.ttl", "Rise – Centsprenten!!"),
				row(brokenIRI, "not a url", "Broken"),
				row(goneIRI, "https://files.example.org/gone.nt", "Gone"),
			},
		},
		resolver: &stubResolver{errs: map[string]error{
			goneIRI: fmt.Errorf("%w: %s", resolver.ErrResolutionExhausted, goneIRI),
		}},
		transformer: &stubTransformer{},
		publisher:   &stubPublisher{},
		ledger:      &stubLedger{},
		cfg: Config{
			RegistryEndpoint: "https://registry.example.org/sparql",
			CatalogQuery:     "SELECT ?dataset ?url ?title WHERE { ?dataset ?p ?url }",
			MetadataQuery:    "CONSTRUCT { ?id ?p ?o } WHERE { ?id ?p ?o }",
			Templates:        []transform.Template{{Name: "cho", Query: "CONSTRUCT {} WHERE {}", Mode: transform.ModeWhole}},
		},
	}
}

func (f *fixture) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	o, err := New(f.cfg, Deps{
		Engine:      f.engine,
		Resolver:    f.resolver,
		Transformer: f.transformer,
		Publishers:  []publish.Publisher{f.publisher},
		Ledger:      f.ledger,
		Logger:      slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return o
}

func outcomeFor(t *testing.T, r *domain.BatchReport, iri string) domain.Outcome {
	t.Helper()
	for _, o := range r.Datasets {
		if o.IRI == iri {
			return o
		}
	}
	t.Fatalf("no outcome for %s", iri)
	return domain.Outcome{}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	report, err := f.orchestrator(t).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}

	rise := outcomeFor(t, report, riseIRI)
	if rise.State != domain.StatePublished || rise.PublishedAs != "stub:riseCentsprenten" || rise.Tier != domain.TierInMemory {
		t.Fatalf("rise outcome=%+v", rise)
	}
	broken := outcomeFor(t, report, brokenIRI)
	if broken.State != domain.StateSkippedInvalid || broken.Step != domain.StepMetadata {
		t.Fatalf("broken outcome=%+v", broken)
	}
	gone := outcomeFor(t, report, goneIRI)
	if gone.State != domain.StateFailed || gone.Step != domain.StepResolve || !strings.Contains(gone.Error, "no endpoint tier") {
		t.Fatalf("gone outcome=%+v", gone)
	}
	if report.Totals[domain.StatePublished] != 1 || report.Totals[domain.StateSkippedInvalid] != 1 || report.Totals[domain.StateFailed] != 1 {
		t.Fatalf("totals=%v", report.Totals)
	}
	if report.RunID == "" || report.Error != "" {
		t.Fatalf("report run_id=%q error=%q", report.RunID, report.Error)
	}

	a, ok := f.publisher.artifact("riseCentsprenten")
	if !ok {
		t.Fatalf("rise not published")
	}
	if a.Graph != rdf.IRI(riseIRI+"edm") || len(a.Quads) != 2 {
		t.Fatalf("artifact=%+v", a)
	}
	if len(f.ledger.outcomes) != 3 || len(f.ledger.publications) != 1 {
		t.Fatalf("ledger outcomes=%d publications=%v", len(f.ledger.outcomes), f.ledger.publications)
	}
}

func TestRun_ValidationViolationsAreNotFatal(t *testing.T) {
	f := newFixture(t)
	f.engine.rows = f.engine.rows[:1]
	f.cfg.EDMShapes = shapes(t, edmShapes)

	report, err := f.orchestrator(t).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	rise := outcomeFor(t, report, riseIRI)
	if rise.State != domain.StatePublished || rise.Violations != 1 {
		t.Fatalf("rise outcome=%+v", rise)
	}
	if report.Violations != 1 {
		t.Fatalf("report violations=%d", report.Violations)
	}

	rep, ok := f.publisher.artifact(DefaultReportName)
	if !ok {
		t.Fatalf("report graph not published")
	}
	found := false
	for _, q := range rep.Quads {
		if q.O == rdf.IRI(rdf.SHNS+"ValidationResult") && q.G == rdf.IRI(DefaultReportGraph) {
			found = true
		}
	}
	if !found {
		t.Fatalf("report graph has no validation result: %v", rep.Quads)
	}
}

func TestRun_DatasetShapesUseMetadata(t *testing.T) {
	f := newFixture(t)
	f.engine.rows = []sparql.Binding{row(riseIRI, "https://files.example.org/rise.ttl", "")}
	f.engine.metadata = map[string][]rdf.Quad{
		riseIRI: {
			rdf.NewQuad(rdf.IRI(riseIRI), rdf.IRI(rdf.RDFType), rdf.IRI(rdf.DCATNS+"Dataset"), rdf.Term{}),
			rdf.NewQuad(rdf.IRI(riseIRI), rdf.IRI(rdf.DCTNS+"title"), rdf.Literal("Rise"), rdf.Term{}),
		},
	}
	f.cfg.DatasetShapes = shapes(t, `@prefix sh: <http://www.w3.org/ns/shacl#> .
@prefix dcat: <http://www.w3.org/ns/dcat#> .
@prefix dct: <http://purl.org/dc/terms/> .
<https://example.org/shapes/Dataset> a sh:NodeShape ;
    sh:targetClass dcat:Dataset ;
    sh:property [ sh:path dct:license ; sh:minCount 1 ] .
`)

	report, err := f.orchestrator(t).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	rise := outcomeFor(t, report, riseIRI)
	if rise.State != domain.StatePublished || rise.Violations != 1 || rise.Title != "Rise" {
		t.Fatalf("rise outcome=%+v", rise)
	}
	if _, ok := f.publisher.artifact("rise"); !ok {
		t.Fatalf("expected publication named from metadata title")
	}
}

func TestRun_CatalogFailureAbortsBatch(t *testing.T) {
	f := newFixture(t)
	f.engine.selectErr = errors.New("registry down")

	report, err := f.orchestrator(t).Run(context.Background(), Options{})
	if !errors.Is(err, ErrCatalogFetch) {
		t.Fatalf("Run() err=%v, want ErrCatalogFetch", err)
	}
	if report == nil || report.Error == "" || len(report.Datasets) != 0 {
		t.Fatalf("report=%+v", report)
	}
	if len(f.publisher.artifacts) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestRun_PanicIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.engine.rows = append(f.engine.rows, row("https://data.example.org/dataset/other", "https://files.example.org/other.ttl", "Other"))
	f.transformer.panicFor = riseIRI

	report, err := f.orchestrator(t).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	rise := outcomeFor(t, report, riseIRI)
	if rise.State != domain.StateFailed || rise.Step != domain.StepTransform || !strings.Contains(rise.Error, "template blew up") {
		t.Fatalf("rise outcome=%+v", rise)
	}
	if other := outcomeFor(t, report, "https://data.example.org/dataset/other"); other.State != domain.StatePublished {
		t.Fatalf("other outcome=%+v", other)
	}
}

func TestRun_DryRunWithFilter(t *testing.T) {
	f := newFixture(t)
	f.cfg.EDMShapes = shapes(t, edmShapes)

	report, err := f.orchestrator(t).Run(context.Background(), Options{Datasets: []string{riseIRI, "https://unknown.example.org/ds"}, DryRun: true})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	if len(report.Datasets) != 1 || !report.DryRun {
		t.Fatalf("report=%+v", report)
	}
	rise := report.Datasets[0]
	if rise.State != domain.StatePublished || rise.PublishedAs != "dry-run:riseCentsprenten" {
		t.Fatalf("rise outcome=%+v", rise)
	}
	if len(f.publisher.artifacts) != 0 {
		t.Fatalf("dry run published %d artifacts", len(f.publisher.artifacts))
	}
}

func TestRun_TemplatesFilteredByTier(t *testing.T) {
	f := newFixture(t)
	f.engine.rows = f.engine.rows[:1]
	f.cfg.Templates = []transform.Template{
		{Name: "managed-only", Mode: transform.ModeWhole, Tiers: []domain.Tier{domain.TierManaged}},
	}

	report, err := f.orchestrator(t).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	rise := outcomeFor(t, report, riseIRI)
	if rise.State != domain.StateFailed || rise.Step != domain.StepTransform {
		t.Fatalf("rise outcome=%+v", rise)
	}
	if len(f.transformer.calls) != 0 {
		t.Fatalf("transformer called: %v", f.transformer.calls)
	}
}

func TestRun_PublishFailureAndLedgerErrors(t *testing.T) {
	f := newFixture(t)
	f.engine.rows = f.engine.rows[:1]
	f.publisher.err = errors.New("bucket gone")
	f.ledger.err = errors.New("db down")

	report, err := f.orchestrator(t).Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run() err=%v", err)
	}
	rise := outcomeFor(t, report, riseIRI)
	if rise.State != domain.StateFailed || rise.Step != domain.StepPublish || !strings.Contains(rise.Error, "bucket gone") {
		t.Fatalf("rise outcome=%+v", rise)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The stub catalog ignores ctx, so the batch stops before the first dataset.
	report, err := f.orchestrator(t).Run(ctx, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() err=%v", err)
	}
	if len(report.Datasets) != 0 {
		t.Fatalf("datasets=%d", len(report.Datasets))
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	f := newFixture(t)
	f.cfg.CatalogQuery = ""
	if _, err := New(f.cfg, Deps{Engine: f.engine, Resolver: f.resolver, Transformer: f.transformer}); err == nil {
		t.Fatalf("New() expected error")
	}
	f = newFixture(t)
	if _, err := New(f.cfg, Deps{Engine: f.engine}); err == nil {
		t.Fatalf("New() expected error without resolver")
	}
}

func TestStepError(t *testing.T) {
	err := error(&StepError{Step: domain.StepResolve, IRI: goneIRI, Err: resolver.ErrResolutionExhausted})
	if !errors.Is(err, resolver.ErrResolutionExhausted) {
		t.Fatalf("StepError does not unwrap")
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != domain.StepResolve {
		t.Fatalf("errors.As() se=%+v", se)
	}
}
