package sparql

import (
	"strings"
	"unicode"
)

type tokenKind uint8

const (
	tokSpace tokenKind = iota
	tokComment
	tokIRI
	tokString
	tokVar
	tokWord
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) blank() bool {
	return t.kind == tokSpace || t.kind == tokComment
}

func (t token) isWord(upper string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, upper)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// lex splits a query into tokens. Joining the text of every token
// reproduces the query, except that variable tokens carry the bare name.
func lex(q string) []token {
	var toks []token
	rs := []rune(q)
	n := len(rs)
	for i := 0; i < n; {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			j := i
			for j < n && unicode.IsSpace(rs[j]) {
				j++
			}
			toks = append(toks, token{kind: tokSpace, text: string(rs[i:j])})
			i = j
		case r == '#':
			j := i
			for j < n && rs[j] != '\n' {
				j++
			}
			toks = append(toks, token{kind: tokComment, text: string(rs[i:j])})
			i = j
		case r == '<':
			if j, ok := iriEnd(rs, i); ok {
				toks = append(toks, token{kind: tokIRI, text: string(rs[i : j+1])})
				i = j + 1
				continue
			}
			toks = append(toks, token{kind: tokPunct, text: "<"})
			i++
		case r == '"' || r == '\'':
			j := stringEnd(rs, i)
			toks = append(toks, token{kind: tokString, text: string(rs[i:j])})
			i = j
		case (r == '?' || r == '$') && i+1 < n && isNameRune(rs[i+1]):
			j := i + 1
			for j < n && isNameRune(rs[j]) {
				j++
			}
			toks = append(toks, token{kind: tokVar, text: string(rs[i+1 : j])})
			i = j
		case isWordRune(r):
			j := i
			for j < n && (isWordRune(rs[j]) || rs[j] == '.' && j+1 < n && isWordRune(rs[j+1])) {
				j++
			}
			toks = append(toks, token{kind: tokWord, text: string(rs[i:j])})
			i = j
		default:
			toks = append(toks, token{kind: tokPunct, text: string(r)})
			i++
		}
	}
	return toks
}

// iriEnd returns the index of the '>' closing an IRI opened at start. An
// opening '<' followed by whitespace before any '>' is an operator.
func iriEnd(rs []rune, start int) (int, bool) {
	for j := start + 1; j < len(rs); j++ {
		switch {
		case rs[j] == '>':
			return j, true
		case unicode.IsSpace(rs[j]) || rs[j] == '<' || rs[j] == '"':
			return 0, false
		}
	}
	return 0, false
}

func stringEnd(rs []rune, start int) int {
	quote := rs[start]
	n := len(rs)
	long := start+2 < n && rs[start+1] == quote && rs[start+2] == quote
	if long {
		for j := start + 3; j+2 < n; j++ {
			if rs[j] == '\\' {
				j++
				continue
			}
			if rs[j] == quote && rs[j+1] == quote && rs[j+2] == quote {
				return j + 3
			}
		}
		return n
	}
	for j := start + 1; j < n; j++ {
		switch rs[j] {
		case '\\':
			j++
		case quote:
			return j + 1
		case '\n':
			return j
		}
	}
	return n
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isWordRune(r rune) bool {
	return isNameRune(r) || r == ':' || r == '-' || r == '@'
}
