// Package rdf holds the in-process RDF model: terms, quads, an in-memory
// graph store and the text codec.
package rdf

import (
	"strings"
)

type TermKind uint8

const (
	KindNone TermKind = iota
	KindIRI
	KindBlank
	KindLiteral
)

// Term is an RDF term. The zero Term is used as a wildcard in Match and as
// the default graph name in a Quad.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Lang     string
}

func IRI(v string) Term {
	return Term{Kind: KindIRI, Value: v}
}

func Blank(id string) Term {
	return Term{Kind: KindBlank, Value: strings.TrimPrefix(id, "_:")}
}

func Literal(v string) Term {
	return Term{Kind: KindLiteral, Value: v}
}

func TypedLiteral(v string, datatype string) Term {
	if datatype == XSDString {
		datatype = ""
	}
	return Term{Kind: KindLiteral, Value: v, Datatype: datatype}
}

func LangLiteral(v string, lang string) Term {
	return Term{Kind: KindLiteral, Value: v, Lang: strings.ToLower(lang)}
}

func (t Term) IsZero() bool { return t.Kind == KindNone }

func (t Term) IsIRI() bool { return t.Kind == KindIRI }

func (t Term) IsBlank() bool { return t.Kind == KindBlank }

func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// DatatypeIRI returns the effective datatype of a literal.
func (t Term) DatatypeIRI() string {
	switch {
	case t.Kind != KindLiteral:
		return ""
	case t.Lang != "":
		return RDFLangString
	case t.Datatype == "":
		return XSDString
	default:
		return t.Datatype
	}
}

// String renders the term in N-Triples syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + escapeIRI(t.Value) + ">"
	case KindBlank:
		return "_:" + t.Value
	case KindLiteral:
		s := `"` + escapeLiteral(t.Value) + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" {
			return s + "^^<" + escapeIRI(t.Datatype) + ">"
		}
		return s
	default:
		return ""
	}
}

type Quad struct {
	S Term
	P Term
	O Term
	// G is the zero Term for the default graph.
	G Term
}

func NewQuad(s, p, o, g Term) Quad {
	return Quad{S: s, P: p, O: o, G: g}
}

// String renders the quad as one N-Quads statement without the newline.
func (q Quad) String() string {
	var b strings.Builder
	b.WriteString(q.S.String())
	b.WriteByte(' ')
	b.WriteString(q.P.String())
	b.WriteByte(' ')
	b.WriteString(q.O.String())
	if !q.G.IsZero() {
		b.WriteByte(' ')
		b.WriteString(q.G.String())
	}
	b.WriteString(" .")
	return b.String()
}

// InGraph returns a copy of quads moved into graph g.
func InGraph(quads []Quad, g Term) []Quad {
	out := make([]Quad, len(quads))
	for i, q := range quads {
		q.G = g
		out[i] = q
	}
	return out
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeLiteral(s string) string {
	return literalEscaper.Replace(s)
}

var iriEscaper = strings.NewReplacer(
	">", `\u003E`,
	"<", `\u003C`,
	" ", `\u0020`,
	`"`, `\u0022`,
)

func escapeIRI(s string) string {
	return iriEscaper.Replace(s)
}
