package shacl

import (
	"fmt"
	"strconv"

	"github.com/animus-labs/edm-harvester/internal/rdf"
)

var (
	shValidationReport = rdf.IRI(rdf.SHNS + "ValidationReport")
	shValidationResult = rdf.IRI(rdf.SHNS + "ValidationResult")
	shConforms         = rdf.IRI(rdf.SHNS + "conforms")
	shResult           = rdf.IRI(rdf.SHNS + "result")
	shFocusNode        = rdf.IRI(rdf.SHNS + "focusNode")
	shResultPath       = rdf.IRI(rdf.SHNS + "resultPath")
	shValue            = rdf.IRI(rdf.SHNS + "value")
	shSourceShape      = rdf.IRI(rdf.SHNS + "sourceShape")
	shSourceComponent  = rdf.IRI(rdf.SHNS + "sourceConstraintComponent")
	shResultSeverity   = rdf.IRI(rdf.SHNS + "resultSeverity")
	shResultMessage    = rdf.IRI(rdf.SHNS + "resultMessage")
)

// Count returns the number of results with severity sh:Violation.
func (r Report) Count() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityViolation {
			n++
		}
	}
	return n
}

// Quads renders the report as a sh:ValidationReport in graph g. Blank node
// labels start with prefix so several reports can share one graph.
func (r Report) Quads(g rdf.Term, prefix string) []rdf.Quad {
	report := rdf.Blank(prefix + "report")
	out := []rdf.Quad{
		rdf.NewQuad(report, rdfType, shValidationReport, g),
		rdf.NewQuad(report, shConforms, rdf.TypedLiteral(strconv.FormatBool(r.Conforms), rdf.XSDBoolean), g),
	}
	for i, v := range r.Violations {
		res := rdf.Blank(fmt.Sprintf("%sresult%d", prefix, i))
		out = append(out,
			rdf.NewQuad(report, shResult, res, g),
			rdf.NewQuad(res, rdfType, shValidationResult, g),
			rdf.NewQuad(res, shFocusNode, v.FocusNode, g),
			rdf.NewQuad(res, shResultSeverity, rdf.IRI(v.Severity), g),
			rdf.NewQuad(res, shSourceComponent, rdf.IRI(v.Component), g),
		)
		if !v.Path.IsZero() {
			out = append(out, rdf.NewQuad(res, shResultPath, v.Path, g))
		}
		if !v.Value.IsZero() {
			out = append(out, rdf.NewQuad(res, shValue, v.Value, g))
		}
		if !v.Shape.IsZero() {
			out = append(out, rdf.NewQuad(res, shSourceShape, v.Shape, g))
		}
		if v.Message != "" {
			out = append(out, rdf.NewQuad(res, shResultMessage, rdf.Literal(v.Message), g))
		}
	}
	return out
}
