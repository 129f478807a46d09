package sqlast

import (
	"strings"

	"github.com/sahithikokkula/verdict-aqe/pkg/errdefs"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuoted
	tokNumber
	tokString
	tokSymbol
)

type token struct {
	kind tokenKind
	text string // identifiers keep their case; quoted ones are unquoted
	pos  int
	end  int
}

// is reports whether t is the bare word or symbol s, ignoring case.
func (t token) is(s string) bool {
	return (t.kind == tokIdent || t.kind == tokSymbol) && strings.EqualFold(t.text, s)
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, errdefs.Newf(errdefs.ErrSyntax, "unterminated comment at %d", i)
			}
			i += end + 4
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i, end: j})
			i = j
		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			j := scanNumber(src, i)
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i, end: j})
			i = j
		case c == '\'':
			s, j, err := scanQuoted(src, i, '\'')
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i, end: j})
			i = j
		case c == '"' || c == '`':
			s, j, err := scanQuoted(src, i, c)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokQuoted, text: s, pos: i, end: j})
			i = j
		case c == '[':
			end := strings.IndexByte(src[i:], ']')
			if end < 0 {
				return nil, errdefs.Newf(errdefs.ErrSyntax, "unterminated identifier at %d", i)
			}
			toks = append(toks, token{kind: tokQuoted, text: src[i+1 : i+end], pos: i, end: i + end + 1})
			i += end + 1
		default:
			if i+1 < len(src) {
				switch two := src[i : i+2]; two {
				case "<=", ">=", "<>", "!=", "||", "==":
					toks = append(toks, token{kind: tokSymbol, text: two, pos: i, end: i + 2})
					i += 2
					continue
				}
			}
			if !strings.ContainsRune("(),.*+-/%=<>;", rune(c)) {
				return nil, errdefs.Newf(errdefs.ErrSyntax, "unexpected character %q at %d", c, i)
			}
			toks = append(toks, token{kind: tokSymbol, text: string(c), pos: i, end: i + 1})
			i++
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src), end: len(src)}), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '$'
}

func scanNumber(src string, i int) int {
	j := i
	for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
		j++
	}
	if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
		k := j + 1
		if k < len(src) && (src[k] == '+' || src[k] == '-') {
			k++
		}
		if k < len(src) && src[k] >= '0' && src[k] <= '9' {
			for k < len(src) && src[k] >= '0' && src[k] <= '9' {
				k++
			}
			j = k
		}
	}
	return j
}

// scanQuoted reads a quote-delimited run starting at src[i]; a doubled quote
// stands for itself.
func scanQuoted(src string, i int, q byte) (string, int, error) {
	var sb strings.Builder
	j := i + 1
	for j < len(src) {
		if src[j] == q {
			if j+1 < len(src) && src[j+1] == q {
				sb.WriteByte(q)
				j += 2
				continue
			}
			return sb.String(), j + 1, nil
		}
		sb.WriteByte(src[j])
		j++
	}
	return "", 0, errdefs.Newf(errdefs.ErrSyntax, "unterminated quote at %d", i)
}
