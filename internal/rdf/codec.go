package rdf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	knakk "github.com/knakk/rdf"
)

type Format string

const (
	FormatTurtle   Format = "turtle"
	FormatNTriples Format = "ntriples"
	FormatNQuads   Format = "nquads"
	FormatRDFXML   Format = "rdfxml"
)

var ErrUnsupportedFormat = errors.New("unsupported rdf format")

func (f Format) MediaType() string {
	switch f {
	case FormatTurtle:
		return "text/turtle"
	case FormatNTriples:
		return "application/n-triples"
	case FormatNQuads:
		return "application/n-quads"
	case FormatRDFXML:
		return "application/rdf+xml"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Extension() string {
	switch f {
	case FormatTurtle:
		return ".ttl"
	case FormatNTriples:
		return ".nt"
	case FormatNQuads:
		return ".nq"
	case FormatRDFXML:
		return ".rdf"
	default:
		return ""
	}
}

// ianaMediaTypes prefixes the IRI form of a media type, as catalogs often
// write dcat:mediaType.
var ianaMediaTypes = []string{
	"http://www.iana.org/assignments/media-types/",
	"https://www.iana.org/assignments/media-types/",
}

// MediaType reduces a media type to its lower-cased type/subtype. Parameters
// and the IANA IRI prefix are dropped.
func MediaType(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range ianaMediaTypes {
		if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = s[len(prefix):]
			break
		}
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		mt, _, _ = strings.Cut(s, ";")
		mt = strings.ToLower(strings.TrimSpace(mt))
	}
	return mt
}

// IsSPARQLQuery reports whether mediaType marks a SPARQL query endpoint.
func IsSPARQLQuery(mediaType string) bool {
	return MediaType(mediaType) == MediaTypeSPARQLQuery
}

// FormatFromMediaType maps a media type, parameters allowed, to a Format.
func FormatFromMediaType(mediaType string) (Format, error) {
	switch MediaType(mediaType) {
	case "text/turtle", "application/x-turtle", "application/turtle":
		return FormatTurtle, nil
	case "application/n-triples", "text/plain":
		return FormatNTriples, nil
	case "application/n-quads", "text/x-nquads":
		return FormatNQuads, nil
	case "application/rdf+xml", "application/xml", "text/xml":
		return FormatRDFXML, nil
	default:
		return "", fmt.Errorf("%w: media type %q", ErrUnsupportedFormat, mediaType)
	}
}

// FormatFromPath maps a file name or URL path extension to a Format.
func FormatFromPath(p string) (Format, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".ttl":
		return FormatTurtle, nil
	case ".nt":
		return FormatNTriples, nil
	case ".nq":
		return FormatNQuads, nil
	case ".rdf", ".owl", ".xml":
		return FormatRDFXML, nil
	default:
		return "", fmt.Errorf("%w: extension of %q", ErrUnsupportedFormat, p)
	}
}

// Parse decodes r. Triple formats place every statement in graph g; N-Quads
// keeps the graph of each statement.
func Parse(r io.Reader, f Format, g Term) ([]Quad, error) {
	switch f {
	case FormatNQuads:
		dec := knakk.NewQuadDecoder(r, knakk.NQuads)
		// Statements without a graph term then come back with a nil context.
		dec.DefaultGraph = nil
		var out []Quad
		for {
			q, err := dec.Decode()
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if err != nil {
				return out, fmt.Errorf("parse nquads: %w", err)
			}
			quad, err := fromKnakkTriple(q.Triple)
			if err != nil {
				return out, err
			}
			quad.G = g
			if q.Ctx != nil {
				ctx, err := fromKnakkTerm(q.Ctx)
				if err != nil {
					return out, err
				}
				quad.G = ctx
			}
			out = append(out, quad)
		}
	case FormatTurtle, FormatNTriples, FormatRDFXML:
		if f == FormatTurtle {
			src, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("read turtle: %w", err)
			}
			r = bytes.NewReader(dropDanglingSemicolons(src))
		}
		dec := knakk.NewTripleDecoder(r, knakkFormat(f))
		var out []Quad
		for {
			t, err := dec.Decode()
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if err != nil {
				return out, fmt.Errorf("parse %s: %w", f, err)
			}
			quad, err := fromKnakkTriple(t)
			if err != nil {
				return out, err
			}
			quad.G = g
			out = append(out, quad)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
}

// ParseString is Parse over an in-memory document.
func ParseString(doc string, f Format) ([]Quad, error) {
	return Parse(strings.NewReader(doc), f, Term{})
}

// Serialize writes quads to w. Turtle and N-Triples drop graph names.
func Serialize(w io.Writer, quads []Quad, f Format) error {
	switch f {
	case FormatNQuads:
		bw := bufio.NewWriter(w)
		for _, q := range quads {
			if _, err := bw.WriteString(q.String()); err != nil {
				return err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		return bw.Flush()
	case FormatTurtle, FormatNTriples:
		enc := knakk.NewTripleEncoder(w, knakkFormat(f))
		for _, q := range quads {
			t, err := toKnakkTriple(q)
			if err != nil {
				return err
			}
			if err := enc.Encode(t); err != nil {
				return fmt.Errorf("serialize %s: %w", f, err)
			}
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: cannot serialize %q", ErrUnsupportedFormat, string(f))
	}
}

func knakkFormat(f Format) knakk.Format {
	switch f {
	case FormatTurtle:
		return knakk.Turtle
	case FormatNQuads:
		return knakk.NQuads
	case FormatRDFXML:
		return knakk.RDFXML
	default:
		return knakk.NTriples
	}
}

func fromKnakkTriple(t knakk.Triple) (Quad, error) {
	s, err := fromKnakkTerm(t.Subj)
	if err != nil {
		return Quad{}, err
	}
	p, err := fromKnakkTerm(t.Pred)
	if err != nil {
		return Quad{}, err
	}
	o, err := fromKnakkTerm(t.Obj)
	if err != nil {
		return Quad{}, err
	}
	return Quad{S: s, P: p, O: o}, nil
}

func fromKnakkTerm(t knakk.Term) (Term, error) {
	switch t.Type() {
	case knakk.TermIRI:
		return IRI(t.String()), nil
	case knakk.TermBlank:
		return Blank(t.String()), nil
	case knakk.TermLiteral:
		lit, ok := t.(knakk.Literal)
		if !ok {
			return Literal(t.String()), nil
		}
		if lang := lit.Lang(); lang != "" {
			return LangLiteral(lit.String(), lang), nil
		}
		return TypedLiteral(lit.String(), lit.DataType.String()), nil
	default:
		return Term{}, fmt.Errorf("unknown term type for %q", t.String())
	}
}

func toKnakkTriple(q Quad) (knakk.Triple, error) {
	s, err := toKnakkTerm(q.S)
	if err != nil {
		return knakk.Triple{}, err
	}
	p, err := knakk.NewIRI(q.P.Value)
	if err != nil {
		return knakk.Triple{}, fmt.Errorf("predicate %q: %w", q.P.Value, err)
	}
	o, err := toKnakkTerm(q.O)
	if err != nil {
		return knakk.Triple{}, err
	}
	subj, ok := s.(knakk.Subject)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("%s cannot be a subject", q.S.Value)
	}
	obj, ok := o.(knakk.Object)
	if !ok {
		return knakk.Triple{}, fmt.Errorf("%s cannot be an object", q.O.Value)
	}
	return knakk.Triple{Subj: subj, Pred: p, Obj: obj}, nil
}

func toKnakkTerm(t Term) (knakk.Term, error) {
	switch t.Kind {
	case KindIRI:
		iri, err := knakk.NewIRI(t.Value)
		if err != nil {
			return nil, fmt.Errorf("iri %q: %w", t.Value, err)
		}
		return iri, nil
	case KindBlank:
		b, err := knakk.NewBlank(t.Value)
		if err != nil {
			return nil, fmt.Errorf("blank %q: %w", t.Value, err)
		}
		return b, nil
	case KindLiteral:
		if t.Lang != "" {
			lit, err := knakk.NewLangLiteral(t.Value, t.Lang)
			if err != nil {
				return nil, fmt.Errorf("literal %q: %w", t.Value, err)
			}
			return lit, nil
		}
		dt, err := knakk.NewIRI(t.DatatypeIRI())
		if err != nil {
			return nil, err
		}
		return knakk.NewTypedLiteral(t.Value, dt), nil
	default:
		return nil, errors.New("cannot encode the zero term")
	}
}
