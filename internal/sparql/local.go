package sparql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/animus-labs/edm-harvester/internal/rdf"
)

// Variables are carried through the Turtle parser as IRIs in this namespace.
const varNS = "urn:x-sparql-var:"

type queryForm uint8

const (
	formSelect queryForm = iota + 1
	formConstruct
)

var unsupportedKeywords = map[string]struct{}{
	"ASK": {}, "DESCRIBE": {}, "FILTER": {}, "OPTIONAL": {}, "UNION": {},
	"MINUS": {}, "BIND": {}, "VALUES": {}, "GRAPH": {}, "SERVICE": {},
	"GROUP": {}, "ORDER": {}, "HAVING": {}, "FROM": {}, "INSERT": {},
	"DELETE": {},
}

type parsedQuery struct {
	form     queryForm
	vars     []string
	distinct bool
	where    []pattern
	template []pattern
	// limit is -1 when absent.
	limit  int
	offset int
}

type patternTerm struct {
	variable string
	term     rdf.Term
}

func (p patternTerm) isVar() bool { return p.variable != "" }

type pattern struct {
	s, p, o patternTerm
}

func parseQuery(q string) (*parsedQuery, error) {
	toks := lex(q)
	for _, t := range toks {
		if t.kind != tokWord {
			continue
		}
		if _, bad := unsupportedKeywords[strings.ToUpper(t.text)]; bad {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedQuery, strings.ToUpper(t.text))
		}
	}

	c := &cursor{toks: toks}
	var prologue strings.Builder
	for {
		t, ok := c.peek()
		if !ok {
			return nil, fmt.Errorf("%w: no query form", ErrUnsupportedQuery)
		}
		switch {
		case t.isWord("PREFIX"):
			c.next()
			name, ok1 := c.next()
			iri, ok2 := c.next()
			if !ok1 || !ok2 || name.kind != tokWord || iri.kind != tokIRI {
				return nil, fmt.Errorf("malformed PREFIX declaration")
			}
			fmt.Fprintf(&prologue, "@prefix %s %s .\n", name.text, iri.text)
			continue
		case t.isWord("BASE"):
			c.next()
			iri, ok := c.next()
			if !ok || iri.kind != tokIRI {
				return nil, fmt.Errorf("malformed BASE declaration")
			}
			fmt.Fprintf(&prologue, "@base %s .\n", iri.text)
			continue
		}
		break
	}

	pq := &parsedQuery{limit: -1}
	form, _ := c.next()
	switch {
	case form.isWord("SELECT"):
		pq.form = formSelect
		if err := parseProjection(c, pq); err != nil {
			return nil, err
		}
	case form.isWord("CONSTRUCT"):
		pq.form = formConstruct
		t, ok := c.peek()
		if ok && t.isPunct("{") {
			block, err := c.block()
			if err != nil {
				return nil, err
			}
			pq.template, err = parsePatterns(prologue.String(), block)
			if err != nil {
				return nil, fmt.Errorf("construct template: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: query form %q", ErrUnsupportedQuery, form.text)
	}

	if t, ok := c.peek(); ok && t.isWord("WHERE") {
		c.next()
	}
	block, err := c.block()
	if err != nil {
		return nil, err
	}
	pq.where, err = parsePatterns(prologue.String(), block)
	if err != nil {
		return nil, fmt.Errorf("where clause: %w", err)
	}
	if pq.form == formConstruct && pq.template == nil {
		pq.template = pq.where
	}
	if pq.form == formSelect && pq.vars == nil {
		pq.vars = patternVars(pq.where)
	}

	for {
		t, ok := c.next()
		if !ok {
			break
		}
		switch {
		case t.isWord("LIMIT"), t.isWord("OFFSET"):
			num, ok := c.next()
			n, err := strconv.Atoi(num.text)
			if !ok || err != nil || n < 0 {
				return nil, fmt.Errorf("malformed %s", strings.ToUpper(t.text))
			}
			if t.isWord("LIMIT") {
				pq.limit = n
			} else {
				pq.offset = n
			}
		default:
			return nil, fmt.Errorf("%w: trailing %q", ErrUnsupportedQuery, t.text)
		}
	}
	return pq, nil
}

func parseProjection(c *cursor, pq *parsedQuery) error {
	for {
		t, ok := c.peek()
		if !ok {
			return fmt.Errorf("select without where clause")
		}
		switch {
		case t.isWord("DISTINCT"), t.isWord("REDUCED"):
			pq.distinct = true
		case t.isPunct("*"):
			pq.vars = nil
		case t.kind == tokVar:
			pq.vars = append(pq.vars, t.text)
		case t.isWord("WHERE"), t.isPunct("{"):
			return nil
		default:
			return fmt.Errorf("%w: projection %q", ErrUnsupportedQuery, t.text)
		}
		c.next()
	}
}

// parsePatterns reads a brace-free group as Turtle, with variables rewritten
// into IRIs so the Turtle parser accepts them.
func parsePatterns(prologue string, block []token) ([]pattern, error) {
	var body strings.Builder
	lastSignificant := token{}
	for _, t := range block {
		switch t.kind {
		case tokVar:
			body.WriteString("<" + varNS + t.text + ">")
		case tokComment:
			body.WriteString("\n")
		default:
			body.WriteString(t.text)
		}
		if !t.blank() {
			lastSignificant = t
		}
	}
	if lastSignificant.text == "" {
		return nil, nil
	}
	if !lastSignificant.isPunct(".") {
		body.WriteString(" .")
	}

	quads, err := rdf.ParseString(prologue+body.String()+"\n", rdf.FormatTurtle)
	if err != nil {
		return nil, err
	}
	out := make([]pattern, 0, len(quads))
	for _, q := range quads {
		out = append(out, pattern{s: toPatternTerm(q.S), p: toPatternTerm(q.P), o: toPatternTerm(q.O)})
	}
	return out, nil
}

func toPatternTerm(t rdf.Term) patternTerm {
	switch {
	case t.IsIRI() && strings.HasPrefix(t.Value, varNS):
		return patternTerm{variable: strings.TrimPrefix(t.Value, varNS)}
	case t.IsBlank():
		return patternTerm{variable: "_:" + t.Value}
	default:
		return patternTerm{term: t}
	}
}

func patternVars(patterns []pattern) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range patterns {
		for _, pt := range []patternTerm{p.s, p.p, p.o} {
			if !pt.isVar() || strings.HasPrefix(pt.variable, "_:") {
				continue
			}
			if _, ok := seen[pt.variable]; ok {
				continue
			}
			seen[pt.variable] = struct{}{}
			out = append(out, pt.variable)
		}
	}
	return out
}

type cursor struct {
	toks []token
	pos  int
}

// peek returns the next non-space token.
func (c *cursor) peek() (token, bool) {
	for i := c.pos; i < len(c.toks); i++ {
		if !c.toks[i].blank() {
			return c.toks[i], true
		}
	}
	return token{}, false
}

func (c *cursor) next() (token, bool) {
	for c.pos < len(c.toks) {
		t := c.toks[c.pos]
		c.pos++
		if !t.blank() {
			return t, true
		}
	}
	return token{}, false
}

// block consumes a '{ ... }' group and returns the tokens inside it. Nested
// groups are not supported.
func (c *cursor) block() ([]token, error) {
	open, ok := c.next()
	if !ok || !open.isPunct("{") {
		return nil, fmt.Errorf("expected '{'")
	}
	start := c.pos
	for c.pos < len(c.toks) {
		t := c.toks[c.pos]
		c.pos++
		switch {
		case t.isPunct("{"):
			return nil, fmt.Errorf("%w: nested group", ErrUnsupportedQuery)
		case t.isPunct("}"):
			return c.toks[start : c.pos-1], nil
		}
	}
	return nil, fmt.Errorf("unterminated '{'")
}

func localSelect(store *rdf.Store, query string) (*Results, error) {
	pq, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	if pq.form != formSelect {
		return nil, fmt.Errorf("%w: expected SELECT", ErrUnsupportedQuery)
	}
	solutions := solve(store, pq.where)
	rows := make([]Binding, 0, len(solutions))
	seen := map[string]struct{}{}
	for _, sol := range solutions {
		row := make(Binding, len(pq.vars))
		for _, v := range pq.vars {
			if term, ok := sol[v]; ok {
				row[v] = term
			}
		}
		if pq.distinct {
			key := rowKey(pq.vars, row)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		rows = append(rows, row)
	}
	return NewResults(pq.vars, window(rows, pq.offset, pq.limit)), nil
}

func localConstruct(store *rdf.Store, query string) ([]rdf.Quad, error) {
	pq, err := parseQuery(query)
	if err != nil {
		return nil, err
	}
	if pq.form != formConstruct {
		return nil, fmt.Errorf("%w: expected CONSTRUCT", ErrUnsupportedQuery)
	}
	solutions := window(solve(store, pq.where), pq.offset, pq.limit)
	out := rdf.NewStore()
	for i, sol := range solutions {
		for _, tp := range pq.template {
			s, ok1 := instantiate(tp.s, sol, i)
			p, ok2 := instantiate(tp.p, sol, i)
			o, ok3 := instantiate(tp.o, sol, i)
			if !ok1 || !ok2 || !ok3 || s.IsLiteral() || !p.IsIRI() {
				continue
			}
			out.AddQuads(rdf.NewQuad(s, p, o, rdf.Term{}))
		}
	}
	return out.Quads(), nil
}

// instantiate fills a template position from a solution. Template blank
// nodes are renamed per solution.
func instantiate(pt patternTerm, sol Binding, row int) (rdf.Term, bool) {
	if !pt.isVar() {
		return pt.term, true
	}
	if id, ok := strings.CutPrefix(pt.variable, "_:"); ok {
		return rdf.Blank(fmt.Sprintf("%s_%d", id, row)), true
	}
	term, ok := sol[pt.variable]
	return term, ok
}

// solve evaluates a basic graph pattern by nested-loop join.
func solve(store *rdf.Store, patterns []pattern) []Binding {
	solutions := []Binding{{}}
	for _, p := range patterns {
		var next []Binding
		for _, sol := range solutions {
			s := bound(p.s, sol)
			pr := bound(p.p, sol)
			o := bound(p.o, sol)
			for _, q := range store.Match(s, pr, o) {
				ext, ok := extend(sol, p, q)
				if ok {
					next = append(next, ext)
				}
			}
		}
		solutions = next
		if len(solutions) == 0 {
			return nil
		}
	}
	return solutions
}

func bound(pt patternTerm, sol Binding) rdf.Term {
	if !pt.isVar() {
		return pt.term
	}
	return sol[pt.variable]
}

func extend(sol Binding, p pattern, q rdf.Quad) (Binding, bool) {
	ext := make(Binding, len(sol)+3)
	for k, v := range sol {
		ext[k] = v
	}
	pairs := []struct {
		pt   patternTerm
		term rdf.Term
	}{{p.s, q.S}, {p.p, q.P}, {p.o, q.O}}
	for _, pair := range pairs {
		if !pair.pt.isVar() {
			continue
		}
		if prev, ok := ext[pair.pt.variable]; ok && prev != pair.term {
			return nil, false
		}
		ext[pair.pt.variable] = pair.term
	}
	return ext, true
}

func window[T any](rows []T, offset int, limit int) []T {
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func rowKey(vars []string, row Binding) string {
	var b strings.Builder
	for _, v := range vars {
		b.WriteString(row[v].String())
		b.WriteByte(0)
	}
	return b.String()
}
