// Package shacl validates graphs against a subset of SHACL core: node shapes
// targeting classes or nodes, with property shapes constraining cardinality,
// datatype, class, node kind, value sets, string length and pattern.
package shacl

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/animus-labs/edm-harvester/internal/rdf"
)

var (
	shNodeShape   = rdf.IRI(rdf.SHNS + "NodeShape")
	shTargetClass = rdf.IRI(rdf.SHNS + "targetClass")
	shTargetNode  = rdf.IRI(rdf.SHNS + "targetNode")
	shProperty    = rdf.IRI(rdf.SHNS + "property")
	shPath        = rdf.IRI(rdf.SHNS + "path")
	shMinCount    = rdf.IRI(rdf.SHNS + "minCount")
	shMaxCount    = rdf.IRI(rdf.SHNS + "maxCount")
	shDatatype    = rdf.IRI(rdf.SHNS + "datatype")
	shClass       = rdf.IRI(rdf.SHNS + "class")
	shNodeKind    = rdf.IRI(rdf.SHNS + "nodeKind")
	shIn          = rdf.IRI(rdf.SHNS + "in")
	shMinLength   = rdf.IRI(rdf.SHNS + "minLength")
	shMaxLength   = rdf.IRI(rdf.SHNS + "maxLength")
	shPattern     = rdf.IRI(rdf.SHNS + "pattern")
	shSeverity    = rdf.IRI(rdf.SHNS + "severity")
	shMessage     = rdf.IRI(rdf.SHNS + "message")
	shDeactivated = rdf.IRI(rdf.SHNS + "deactivated")

	rdfType  = rdf.IRI(rdf.RDFType)
	rdfFirst = rdf.IRI(rdf.RDFNS + "first")
	rdfRest  = rdf.IRI(rdf.RDFNS + "rest")
	rdfNil   = rdf.IRI(rdf.RDFNS + "nil")
)

const (
	SeverityViolation = rdf.SHNS + "Violation"
	SeverityWarning   = rdf.SHNS + "Warning"
	SeverityInfo      = rdf.SHNS + "Info"
)

type nodeShape struct {
	id          rdf.Term
	targetClass []rdf.Term
	targetNode  []rdf.Term
	properties  []propertyShape
	severity    string
	deactivated bool
}

type propertyShape struct {
	id        rdf.Term
	path      rdf.Term
	minCount  int
	maxCount  int
	datatype  string
	class     []rdf.Term
	nodeKind  string
	in        []rdf.Term
	minLength int
	maxLength int
	pattern   *regexp.Regexp
	severity  string
	message   string
}

// Shapes is a parsed shapes graph.
type Shapes struct {
	nodes []nodeShape
}

func (s *Shapes) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

// LoadShapes parses a Turtle shapes file.
func LoadShapes(path string) (*Shapes, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	format, err := rdf.FormatFromPath(path)
	if err != nil {
		format = rdf.FormatTurtle
	}
	quads, err := rdf.Parse(f, format, rdf.Term{})
	if err != nil {
		return nil, fmt.Errorf("shapes %s: %w", path, err)
	}
	shapes, err := ParseShapes(quads)
	if err != nil {
		return nil, fmt.Errorf("shapes %s: %w", path, err)
	}
	return shapes, nil
}

func ParseShapes(quads []rdf.Quad) (*Shapes, error) {
	g := rdf.NewStore()
	g.AddQuads(quads...)

	var issues []string
	out := &Shapes{}
	for _, id := range g.Subjects(rdfType, shNodeShape) {
		ns := nodeShape{
			id:          id,
			targetClass: g.Objects(id, shTargetClass),
			targetNode:  g.Objects(id, shTargetNode),
			severity:    iriValue(g, id, shSeverity, SeverityViolation),
			deactivated: boolValue(g, id, shDeactivated),
		}
		for _, pid := range g.Objects(id, shProperty) {
			ps, err := parseProperty(g, pid, ns.severity)
			if err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", id, err))
				continue
			}
			ns.properties = append(ns.properties, ps)
		}
		out.nodes = append(out.nodes, ns)
	}
	if len(issues) > 0 {
		return nil, &ParseError{Issues: issues}
	}
	if len(out.nodes) == 0 {
		return nil, errors.New("no sh:NodeShape found")
	}
	return out, nil
}

type ParseError struct {
	Issues []string
}

func (e *ParseError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid shape: " + e.Issues[0]
	}
	return fmt.Sprintf("invalid shapes: %d issues (first: %s)", len(e.Issues), e.Issues[0])
}

func parseProperty(g *rdf.Store, id rdf.Term, inherited string) (propertyShape, error) {
	paths := g.Objects(id, shPath)
	if len(paths) != 1 || !paths[0].IsIRI() {
		return propertyShape{}, fmt.Errorf("property shape %s needs exactly one IRI sh:path", id)
	}
	ps := propertyShape{
		id:        id,
		path:      paths[0],
		minCount:  intValue(g, id, shMinCount, -1),
		maxCount:  intValue(g, id, shMaxCount, -1),
		datatype:  iriValue(g, id, shDatatype, ""),
		class:     g.Objects(id, shClass),
		nodeKind:  iriValue(g, id, shNodeKind, ""),
		minLength: intValue(g, id, shMinLength, -1),
		maxLength: intValue(g, id, shMaxLength, -1),
		severity:  iriValue(g, id, shSeverity, inherited),
	}
	if msgs := g.Objects(id, shMessage); len(msgs) > 0 {
		ps.message = msgs[0].Value
	}
	if lists := g.Objects(id, shIn); len(lists) > 0 {
		ps.in = readList(g, lists[0])
	}
	if patterns := g.Objects(id, shPattern); len(patterns) > 0 {
		re, err := regexp.Compile(patterns[0].Value)
		if err != nil {
			return propertyShape{}, fmt.Errorf("sh:pattern on %s: %w", id, err)
		}
		ps.pattern = re
	}
	return ps, nil
}

func readList(g *rdf.Store, head rdf.Term) []rdf.Term {
	var out []rdf.Term
	seen := map[rdf.Term]struct{}{}
	for node := head; node != rdfNil && !node.IsZero(); {
		if _, loop := seen[node]; loop {
			break
		}
		seen[node] = struct{}{}
		if first := g.Objects(node, rdfFirst); len(first) > 0 {
			out = append(out, first[0])
		}
		rest := g.Objects(node, rdfRest)
		if len(rest) == 0 {
			break
		}
		node = rest[0]
	}
	return out
}

func iriValue(g *rdf.Store, subj, pred rdf.Term, def string) string {
	for _, o := range g.Objects(subj, pred) {
		if o.IsIRI() {
			return o.Value
		}
	}
	return def
}

func intValue(g *rdf.Store, subj, pred rdf.Term, def int) int {
	for _, o := range g.Objects(subj, pred) {
		if n, err := strconv.Atoi(o.Value); err == nil {
			return n
		}
	}
	return def
}

func boolValue(g *rdf.Store, subj, pred rdf.Term) bool {
	values := g.Objects(subj, pred)
	return len(values) > 0 && values[0].Value == "true"
}
