package shacl

import (
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/animus-labs/edm-harvester/internal/rdf"
)

const (
	ComponentMinCount  = rdf.SHNS + "MinCountConstraintComponent"
	ComponentMaxCount  = rdf.SHNS + "MaxCountConstraintComponent"
	ComponentDatatype  = rdf.SHNS + "DatatypeConstraintComponent"
	ComponentClass     = rdf.SHNS + "ClassConstraintComponent"
	ComponentNodeKind  = rdf.SHNS + "NodeKindConstraintComponent"
	ComponentIn        = rdf.SHNS + "InConstraintComponent"
	ComponentMinLength = rdf.SHNS + "MinLengthConstraintComponent"
	ComponentMaxLength = rdf.SHNS + "MaxLengthConstraintComponent"
	ComponentPattern   = rdf.SHNS + "PatternConstraintComponent"
)

// Violation is one validation result.
type Violation struct {
	FocusNode rdf.Term
	Path      rdf.Term
	Value     rdf.Term
	Shape     rdf.Term
	Component string
	Severity  string
	Message   string
}

type Report struct {
	Conforms   bool
	Violations []Violation
}

// Validator checks data against shapes. The zero value is ready to use.
type Validator struct{}

func (Validator) Validate(data *rdf.Store, shapes *Shapes) Report {
	report := Report{Conforms: true}
	if data == nil || shapes == nil {
		return report
	}
	for _, ns := range shapes.nodes {
		if ns.deactivated {
			continue
		}
		for _, focus := range focusNodes(data, ns) {
			for _, ps := range ns.properties {
				report.Violations = append(report.Violations, checkProperty(data, ps, focus)...)
			}
		}
	}
	for _, v := range report.Violations {
		if v.Severity == SeverityViolation {
			report.Conforms = false
			break
		}
	}
	return report
}

func focusNodes(data *rdf.Store, ns nodeShape) []rdf.Term {
	seen := map[rdf.Term]struct{}{}
	var out []rdf.Term
	add := func(t rdf.Term) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, n := range ns.targetNode {
		add(n)
	}
	for _, class := range ns.targetClass {
		for _, s := range data.Subjects(rdfType, class) {
			add(s)
		}
	}
	return out
}

func checkProperty(data *rdf.Store, ps propertyShape, focus rdf.Term) []Violation {
	values := data.Objects(focus, ps.path)
	var out []Violation
	fail := func(component string, value rdf.Term, msg string) {
		if ps.message != "" {
			msg = ps.message
		}
		out = append(out, Violation{
			FocusNode: focus,
			Path:      ps.path,
			Value:     value,
			Shape:     ps.id,
			Component: component,
			Severity:  ps.severity,
			Message:   msg,
		})
	}

	if ps.minCount >= 0 && len(values) < ps.minCount {
		fail(ComponentMinCount, rdf.Term{}, fmt.Sprintf("expected at least %d values, found %d", ps.minCount, len(values)))
	}
	if ps.maxCount >= 0 && len(values) > ps.maxCount {
		fail(ComponentMaxCount, rdf.Term{}, fmt.Sprintf("expected at most %d values, found %d", ps.maxCount, len(values)))
	}

	for _, v := range values {
		if ps.datatype != "" && (!v.IsLiteral() || v.DatatypeIRI() != ps.datatype) {
			fail(ComponentDatatype, v, "value does not have datatype "+ps.datatype)
		}
		for _, class := range ps.class {
			if !hasType(data, v, class) {
				fail(ComponentClass, v, "value is not an instance of "+class.Value)
			}
		}
		if ps.nodeKind != "" && !matchesNodeKind(v, ps.nodeKind) {
			fail(ComponentNodeKind, v, "value does not match node kind "+ps.nodeKind)
		}
		if len(ps.in) > 0 && !contains(ps.in, v) {
			fail(ComponentIn, v, "value is not in the allowed set")
		}
		if ps.minLength >= 0 || ps.maxLength >= 0 || ps.pattern != nil {
			if v.IsBlank() {
				fail(ComponentPattern, v, "blank node has no string form")
				continue
			}
			n := utf8.RuneCountInString(v.Value)
			if ps.minLength >= 0 && n < ps.minLength {
				fail(ComponentMinLength, v, "value shorter than "+strconv.Itoa(ps.minLength))
			}
			if ps.maxLength >= 0 && n > ps.maxLength {
				fail(ComponentMaxLength, v, "value longer than "+strconv.Itoa(ps.maxLength))
			}
			if ps.pattern != nil && !ps.pattern.MatchString(v.Value) {
				fail(ComponentPattern, v, "value does not match "+ps.pattern.String())
			}
		}
	}
	return out
}

func hasType(data *rdf.Store, node, class rdf.Term) bool {
	if node.IsLiteral() {
		return false
	}
	return len(data.Match(node, rdfType, class)) > 0
}

func matchesNodeKind(v rdf.Term, kind string) bool {
	switch kind {
	case rdf.SHNS + "IRI":
		return v.IsIRI()
	case rdf.SHNS + "BlankNode":
		return v.IsBlank()
	case rdf.SHNS + "Literal":
		return v.IsLiteral()
	case rdf.SHNS + "BlankNodeOrIRI":
		return v.IsBlank() || v.IsIRI()
	case rdf.SHNS + "BlankNodeOrLiteral":
		return v.IsBlank() || v.IsLiteral()
	case rdf.SHNS + "IRIOrLiteral":
		return v.IsIRI() || v.IsLiteral()
	default:
		return true
	}
}

func contains(set []rdf.Term, v rdf.Term) bool {
	for _, item := range set {
		if item == v {
			return true
		}
	}
	return false
}
