// Package sparql runs SELECT and CONSTRUCT queries against either a remote
// SPARQL protocol endpoint or an in-process rdf.Store.
//
// The local evaluator supports basic graph patterns only: triple patterns
// joined on shared variables, with PREFIX/BASE, DISTINCT and LIMIT/OFFSET.
package sparql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/animus-labs/edm-harvester/internal/fetch"
	"github.com/animus-labs/edm-harvester/internal/rdf"
)

var ErrUnsupportedQuery = errors.New("unsupported query")

// Source is where a query runs. It is either Remote or Local.
type Source interface {
	source()
}

// Remote is a SPARQL protocol endpoint. Cached responses are keyed by the
// endpoint URL and the query text.
type Remote struct {
	URL    string
	Cached bool
}

// Local is an in-process store.
type Local struct {
	Store *rdf.Store
}

func (Remote) source() {}
func (Local) source()  {}

// Binding maps variable names, without the leading '?', to terms.
type Binding map[string]rdf.Term

// Results is a finite sequence of bindings that can be consumed once.
type Results struct {
	Vars []string
	rows []Binding
	pos  int
}

// NewResults wraps materialized rows, for sources that do not stream.
func NewResults(vars []string, rows []Binding) *Results {
	return &Results{Vars: vars, rows: rows}
}

// Next returns the next row, or false once the sequence is exhausted.
func (r *Results) Next() (Binding, bool) {
	if r == nil || r.pos >= len(r.rows) {
		return nil, false
	}
	row := r.rows[r.pos]
	r.rows[r.pos] = nil
	r.pos++
	return row, true
}

// drain consumes and returns every remaining row.
func (r *Results) drain() []Binding {
	var out []Binding
	for {
		row, ok := r.Next()
		if !ok {
			return out
		}
		out = append(out, row)
	}
}

type Engine struct {
	client *fetch.Client
	logger *slog.Logger
}

func NewEngine(client *fetch.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{client: client, logger: logger}
}

func (e *Engine) Select(ctx context.Context, query string, src Source) (*Results, error) {
	switch s := src.(type) {
	case Remote:
		return e.remoteSelect(ctx, s, query)
	case Local:
		if s.Store == nil {
			return nil, errors.New("local source has no store")
		}
		return localSelect(s.Store, query)
	default:
		return nil, fmt.Errorf("unknown source %T", src)
	}
}

func (e *Engine) Construct(ctx context.Context, query string, src Source) ([]rdf.Quad, error) {
	switch s := src.(type) {
	case Remote:
		return e.remoteConstruct(ctx, s, query)
	case Local:
		if s.Store == nil {
			return nil, errors.New("local source has no store")
		}
		return localConstruct(s.Store, query)
	default:
		return nil, fmt.Errorf("unknown source %T", src)
	}
}
