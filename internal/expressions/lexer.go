package expressions

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rendis/rulekit/pkg/schema"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokNull
	tokAnd
	tokOr
	tokNot
	tokEq
	tokNeq
	tokGt
	tokGte
	tokLt
	tokLte
	tokLParen
	tokRParen
	tokDot
)

var tokenNames = map[tokenKind]string{
	tokEOF:    "end of expression",
	tokIdent:  "identifier",
	tokNumber: "number",
	tokString: "string",
	tokTrue:   "true",
	tokFalse:  "false",
	tokNull:   "null",
	tokAnd:    "AND",
	tokOr:     "OR",
	tokNot:    "NOT",
	tokEq:     "==",
	tokNeq:    "!=",
	tokGt:     ">",
	tokGte:    ">=",
	tokLt:     "<",
	tokLte:    "<=",
	tokLParen: "(",
	tokRParen: ")",
	tokDot:    ".",
}

func (k tokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

type token struct {
	kind tokenKind
	text string // raw text for identifiers/numbers, unquoted value for strings
	pos  int    // byte offset in the source
}

var keywords = map[string]tokenKind{
	"and":   tokAnd,
	"or":    tokOr,
	"not":   tokNot,
	"true":  tokTrue,
	"false": tokFalse,
	"null":  tokNull,
}

// lex splits a predicate expression into tokens. The returned slice always
// ends with a tokEOF token.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		r, _ := utf8.DecodeRuneInString(src[i:])
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(r):
			start := i
			for i < len(src) {
				next, w := utf8.DecodeRuneInString(src[i:])
				if !isIdentPart(next) {
					break
				}
				i += w
			}
			word := src[start:i]
			if kw, ok := keywords[strings.ToLower(word)]; ok {
				toks = append(toks, token{kind: kw, text: word, pos: start})
			} else {
				toks = append(toks, token{kind: tokIdent, text: word, pos: start})
			}
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			i++
			for i < len(src) && isDigit(src[i]) {
				i++
			}
			if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
				i++
				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}
			if next, _ := utf8.DecodeRuneInString(src[i:]); i < len(src) && isIdentStart(next) {
				return nil, compileErrorf(src, i, "malformed number starting %q", src[start:i])
			}
			toks = append(toks, token{kind: tokNumber, text: src[start:i], pos: start})
		case c == '"' || c == '\'':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i})
			i = next
		default:
			kind, width := lexOperator(src, i)
			if width == 0 {
				if c == '=' || c == '&' || c == '|' {
					return nil, compileErrorf(src, i, "unknown operator %q", string(c))
				}
				return nil, compileErrorf(src, i, "unexpected character %q", string(c))
			}
			toks = append(toks, token{kind: kind, text: src[i : i+width], pos: i})
			i += width
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(src)})
	return toks, nil
}

func lexOperator(src string, i int) (tokenKind, int) {
	two := ""
	if i+1 < len(src) {
		two = src[i : i+2]
	}
	switch two {
	case "==":
		return tokEq, 2
	case "!=", "<>":
		return tokNeq, 2
	case ">=":
		return tokGte, 2
	case "<=":
		return tokLte, 2
	case "&&":
		return tokAnd, 2
	case "||":
		return tokOr, 2
	}
	switch src[i] {
	case '>':
		return tokGt, 1
	case '<':
		return tokLt, 1
	case '!':
		return tokNot, 1
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case '.':
		return tokDot, 1
	}
	return tokEOF, 0
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(src):
			switch esc := src[i+1]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '"', '\'':
				b.WriteByte(esc)
			default:
				return "", 0, compileErrorf(src, i, "invalid escape sequence \\%c", esc)
			}
			i += 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, compileErrorf(src, start, "unterminated string literal")
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func compileErrorf(src string, pos int, format string, args ...any) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeCompile, "%s at position %d", fmt.Sprintf(format, args...), pos).
		WithDetails(map[string]any{"expression": src, "position": pos})
}
