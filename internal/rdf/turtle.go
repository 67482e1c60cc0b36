package rdf

// dropDanglingSemicolons removes a ';' whose next significant token closes a
// blank node property list ("[ ex:a 1 ; ]"). The Turtle grammar allows it,
// the decoder does not. String literals, IRIs and comments are copied as is.
func dropDanglingSemicolons(src []byte) []byte {
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			end := skipString(src, i)
			out = append(out, src[i:end]...)
			i = end
		case c == '<':
			end := skipUntil(src, i+1, '>')
			out = append(out, src[i:end]...)
			i = end
		case c == '#':
			end := skipUntil(src, i+1, '\n')
			out = append(out, src[i:end]...)
			i = end
		case c == ';':
			if j := nextSignificant(src, i+1); j >= len(src) || src[j] != ']' {
				out = append(out, c)
			}
			i++
		default:
			out = append(out, c)
			i++
		}
	}
	return out
}

// skipString returns the index just past the string literal starting at i,
// short ("...") or long ("""...""").
func skipString(src []byte, i int) int {
	q := src[i]
	long := i+2 < len(src) && src[i+1] == q && src[i+2] == q
	j := i + 1
	if long {
		j = i + 3
	}
	for j < len(src) {
		switch {
		case src[j] == '\\':
			j += 2
		case src[j] == q && !long:
			return j + 1
		case src[j] == q && j+2 < len(src) && src[j+1] == q && src[j+2] == q:
			return j + 3
		case src[j] == '\n' && !long:
			return j
		default:
			j++
		}
	}
	return len(src)
}

// skipUntil returns the index just past the first stop byte at or after i.
func skipUntil(src []byte, i int, stop byte) int {
	for ; i < len(src); i++ {
		if src[i] == stop {
			return i + 1
		}
	}
	return len(src)
}

// nextSignificant skips whitespace, further semicolons and comments.
func nextSignificant(src []byte, i int) int {
	for i < len(src) {
		switch src[i] {
		case ' ', '\t', '\r', '\n', ';':
			i++
		case '#':
			i = skipUntil(src, i+1, '\n')
		default:
			return i
		}
	}
	return i
}
