package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/publish"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/resolver"
	"github.com/animus-labs/edm-harvester/internal/shacl"
)

// StepError is a dataset failure together with the step it happened in.
type StepError struct {
	Step domain.Step
	IRI  string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Step, e.IRI, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

var errNoOutput = errors.New("transform produced no triples")

var dctTitle = rdf.IRI(rdf.DCTNS + "title")

// subPipeline is the state of one dataset inside a batch.
type subPipeline struct {
	batch   *batch
	index   int
	desc    domain.Descriptor
	step    domain.Step
	handle  resolver.Handle
	meta    *rdf.Store
	out     *rdf.Store
	outcome domain.Outcome
	// invalid marks a descriptor that cannot be harvested at all.
	invalid bool
}

func (o *Orchestrator) runDataset(ctx context.Context, b *batch, d domain.Descriptor) domain.Outcome {
	b.seq++
	sp := &subPipeline{
		batch: b,
		index: b.seq,
		desc:  d,
		meta:  rdf.NewStore(),
		out:   rdf.NewStore(),
		outcome: domain.Outcome{
			IRI:       d.IRI,
			Title:     d.Title,
			State:     domain.StatePending,
			StartedAt: o.now(),
		},
	}
	logger := o.logger.With("run_id", b.id, "dataset_iri", d.IRI)

	err := o.process(ctx, sp)
	resolver.Release(sp.handle)
	sp.meta.RemoveAll()
	sp.out.RemoveAll()

	sp.outcome.FinishedAt = o.now()
	sp.outcome.Title = sp.desc.Title
	switch {
	case err == nil:
		sp.outcome.State = domain.StatePublished
		logger.Info("dataset published", "tier", sp.outcome.Tier, "published_as", sp.outcome.PublishedAs, "triples", sp.outcome.Triples, "violations", sp.outcome.Violations)
	case sp.invalid:
		sp.outcome.State = domain.StateSkippedInvalid
		sp.outcome.Step = sp.step
		sp.outcome.Error = err.Error()
		logger.Warn("dataset skipped", "step", sp.step, "error", err)
	default:
		sp.outcome.State = domain.StateFailed
		sp.outcome.Step = sp.step
		sp.outcome.Error = err.Error()
		logger.Error("dataset failed", "step", sp.step, "tier", sp.outcome.Tier, "error", err)
	}
	return sp.outcome
}

// process runs the steps of one dataset. Panics become a StepError for the
// step that was running.
func (o *Orchestrator) process(ctx context.Context, sp *subPipeline) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &StepError{Step: sp.step, IRI: sp.desc.IRI, Err: fmt.Errorf("panic: %v", v)}
		}
	}()

	steps := []struct {
		step domain.Step
		run  func(context.Context, *subPipeline) error
	}{
		{domain.StepMetadata, o.enrich},
		{domain.StepResolve, o.resolve},
		{domain.StepTransform, o.transform},
		{domain.StepValidate, o.validateOutput},
		{domain.StepPublish, o.publish},
	}
	for _, s := range steps {
		sp.step = s.step
		if err := ctx.Err(); err != nil {
			return &StepError{Step: s.step, IRI: sp.desc.IRI, Err: err}
		}
		if err := s.run(ctx, sp); err != nil {
			return &StepError{Step: s.step, IRI: sp.desc.IRI, Err: err}
		}
	}
	return nil
}

func (o *Orchestrator) enrich(ctx context.Context, sp *subPipeline) error {
	quads, err := o.catalog.Metadata(ctx, sp.desc.IRI)
	if err != nil {
		return err
	}
	sp.meta.AddQuads(quads...)
	if sp.desc.Title == "" {
		if titles := sp.meta.Objects(rdf.IRI(sp.desc.IRI), dctTitle); len(titles) > 0 {
			sp.desc.Title = strings.TrimSpace(titles[0].Value)
		}
	}
	o.record(sp, "meta", sp.meta, o.cfg.DatasetShapes)

	if err := sp.desc.Validate(); err != nil {
		sp.invalid = true
		return err
	}
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, sp *subPipeline) error {
	h, err := o.resolver.Resolve(ctx, &sp.desc)
	if err != nil {
		return err
	}
	sp.handle = h
	sp.outcome.Tier = resolver.TierOf(h)
	sp.desc.Tier = sp.outcome.Tier
	return nil
}

func (o *Orchestrator) transform(ctx context.Context, sp *subPipeline) error {
	applied := 0
	for _, tmpl := range o.cfg.Templates {
		if !tmpl.Applies(sp.outcome.Tier) {
			continue
		}
		applied++
		stats, err := o.transformer.Run(ctx, sp.desc, sp.handle, tmpl, sp.out)
		if err != nil {
			return err
		}
		sp.outcome.Records += stats.Records
	}
	if applied == 0 {
		return fmt.Errorf("no transform template applies to tier %q", sp.outcome.Tier)
	}
	sp.outcome.Triples = sp.out.Len()
	if sp.outcome.Triples == 0 {
		return errNoOutput
	}
	return nil
}

func (o *Orchestrator) validateOutput(_ context.Context, sp *subPipeline) error {
	o.record(sp, "edm", sp.out, o.cfg.EDMShapes)
	return nil
}

// record validates data against shapes and adds the report to the batch
// report graph. Violations never fail the dataset.
func (o *Orchestrator) record(sp *subPipeline, label string, data *rdf.Store, shapes *shacl.Shapes) {
	if shapes == nil {
		return
	}
	report := o.validator.Validate(data, shapes)
	prefix := fmt.Sprintf("d%d%s", sp.index, label)
	sp.batch.violations.AddQuads(report.Quads(sp.batch.graph, prefix)...)
	if n := report.Count(); n > 0 {
		sp.outcome.Violations += n
		o.logger.Warn("shape violations", "run_id", sp.batch.id, "dataset_iri", sp.desc.IRI, "step", sp.step, "violations", n)
	}
}

func (o *Orchestrator) publish(ctx context.Context, sp *subPipeline) error {
	name := publish.NameFor(sp.desc)
	if sp.batch.opts.DryRun {
		sp.outcome.PublishedAs = "dry-run:" + name
		return nil
	}
	if len(o.publishers) == 0 {
		return errors.New("no publish target configured")
	}
	artifact := publish.Artifact{
		Name:  name,
		Title: sp.desc.Title,
		Graph: rdf.IRI(sp.desc.OutputGraph()),
		Quads: sp.out.Quads(),
	}
	var locations []string
	for _, p := range o.publishers {
		location, err := p.Publish(ctx, artifact)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Target(), err)
		}
		locations = append(locations, location)
		if o.ledger != nil {
			if err := o.ledger.RecordPublication(ctx, sp.batch.id, sp.desc.IRI, p.Target(), location, len(artifact.Quads)); err != nil {
				o.logger.Warn("lineage write failed", "run_id", sp.batch.id, "dataset_iri", sp.desc.IRI, "error", err)
			}
		}
	}
	sp.outcome.PublishedAs = strings.Join(locations, ",")
	return nil
}
