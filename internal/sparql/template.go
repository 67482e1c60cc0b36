package sparql

import (
	"strings"

	"github.com/animus-labs/edm-harvester/internal/rdf"
)

// IDVar is the placeholder variable transform and metadata templates use for
// the record or dataset they are instantiated for.
const IDVar = "id"

// Substitute replaces every occurrence of ?name (or $name) in query with the
// N-Triples form of value. Occurrences inside IRIs, strings and comments, and
// longer variables sharing the prefix, are left alone.
func Substitute(query string, name string, value rdf.Term) string {
	var b strings.Builder
	for _, t := range lex(query) {
		switch {
		case t.kind == tokVar && t.text == name:
			b.WriteString(value.String())
		case t.kind == tokVar:
			b.WriteString("?" + t.text)
		default:
			b.WriteString(t.text)
		}
	}
	return b.String()
}

// BindID substitutes ?id with an IRI.
func BindID(query string, iri string) string {
	return Substitute(query, IDVar, rdf.IRI(iri))
}

// HasVar reports whether query mentions ?name.
func HasVar(query string, name string) bool {
	for _, t := range lex(query) {
		if t.kind == tokVar && t.text == name {
			return true
		}
	}
	return false
}
