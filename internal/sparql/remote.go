package sparql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/animus-labs/edm-harvester/internal/fetch"
	"github.com/animus-labs/edm-harvester/internal/rdf"
)

const (
	acceptResults = "application/sparql-results+json"
	acceptGraph   = "application/n-triples, text/turtle;q=0.9, application/rdf+xml;q=0.5"
)

type jsonResults struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]jsonTerm `json:"bindings"`
	} `json:"results"`
}

type jsonTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Lang     string `json:"xml:lang"`
	Datatype string `json:"datatype"`
}

func (t jsonTerm) term() (rdf.Term, error) {
	switch t.Type {
	case "uri":
		return rdf.IRI(t.Value), nil
	case "bnode":
		return rdf.Blank(t.Value), nil
	case "literal", "typed-literal":
		if t.Lang != "" {
			return rdf.LangLiteral(t.Value, t.Lang), nil
		}
		return rdf.TypedLiteral(t.Value, t.Datatype), nil
	default:
		return rdf.Term{}, fmt.Errorf("unknown binding type %q", t.Type)
	}
}

func (e *Engine) post(ctx context.Context, src Remote, query string, accept string) (*fetch.Response, error) {
	if e.client == nil {
		return nil, errors.New("remote queries need a fetch client")
	}
	form := url.Values{"query": {query}}
	return e.client.Do(ctx, fetch.Request{
		Method: http.MethodPost,
		URL:    src.URL,
		Header: http.Header{
			"Accept":       []string{accept},
			"Content-Type": []string{"application/x-www-form-urlencoded"},
		},
		Body:       []byte(form.Encode()),
		CacheQuery: query,
		NoCache:    !src.Cached,
	})
}

func (e *Engine) remoteSelect(ctx context.Context, src Remote, query string) (*Results, error) {
	resp, err := e.post(ctx, src, query, acceptResults)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", src.URL, err)
	}
	var doc jsonResults
	if err := json.NewDecoder(bytes.NewReader(resp.Body)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode results from %s: %w", src.URL, err)
	}
	rows := make([]Binding, 0, len(doc.Results.Bindings))
	for _, raw := range doc.Results.Bindings {
		row := make(Binding, len(raw))
		for name, jt := range raw {
			term, err := jt.term()
			if err != nil {
				return nil, fmt.Errorf("results from %s: %w", src.URL, err)
			}
			row[name] = term
		}
		rows = append(rows, row)
	}
	e.logger.Debug("remote select", "endpoint", src.URL, "rows", len(rows), "from_cache", resp.FromCache)
	return NewResults(doc.Head.Vars, rows), nil
}

func (e *Engine) remoteConstruct(ctx context.Context, src Remote, query string) ([]rdf.Quad, error) {
	resp, err := e.post(ctx, src, query, acceptGraph)
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", src.URL, err)
	}
	// Turtle also reads N-Triples, which covers cache hits that carry no
	// content type.
	format := rdf.FormatTurtle
	if resp.ContentType != "" {
		if f, err := rdf.FormatFromMediaType(resp.ContentType); err == nil {
			format = f
		}
	}
	quads, err := rdf.Parse(bytes.NewReader(resp.Body), format, rdf.Term{})
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", src.URL, err)
	}
	e.logger.Debug("remote construct", "endpoint", src.URL, "quads", len(quads), "from_cache", resp.FromCache)
	return quads, nil
}
