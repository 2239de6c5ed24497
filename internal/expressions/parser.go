package expressions

import (
	"strconv"
	"strings"

	"github.com/rendis/rulekit/pkg/schema"
)

// parser is a recursive-descent parser for the predicate grammar:
//
//	expr       := orExpr
//	orExpr     := andExpr (OR andExpr)*
//	andExpr    := notExpr (AND notExpr)*
//	notExpr    := NOT notExpr | comparison
//	comparison := operand (cmpOp operand)?
//	operand    := literal | path | "(" expr ")"
//	path       := ident ("." ident)*
type parser struct {
	src  string
	toks []token
	pos  int

	// free variables: root symbols in order of first appearance
	symbols []string
	seen    map[string]struct{}
}

// parsePredicate compiles src into a node tree and returns the root symbols it references.
func parsePredicate(src string) (node, []string, error) {
	if strings.TrimSpace(src) == "" {
		return nil, nil, schema.NewError(schema.ErrCodeCompile, "empty expression")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, nil, err
	}

	p := &parser{src: src, toks: toks, seen: make(map[string]struct{})}
	root, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}

	if tok := p.peek(); tok.kind != tokEOF {
		if tok.kind == tokRParen {
			return nil, nil, compileErrorf(src, tok.pos, "unbalanced parenthesis: unexpected ')'")
		}
		return nil, nil, compileErrorf(src, tok.pos, "unexpected %s", describe(tok))
	}
	if err := p.requireBoolean(root, 0); err != nil {
		return nil, nil, err
	}
	return root, p.symbols, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		op := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if err := p.requireBoolean(left, op.pos); err != nil {
			return nil, err
		}
		if err := p.requireBoolean(right, op.pos); err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		op := p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if err := p.requireBoolean(left, op.pos); err != nil {
			return nil, err
		}
		if err := p.requireBoolean(right, op.pos); err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokNot {
		op := p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if err := p.requireBoolean(operand, op.pos); err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op, ok := comparisonOp(p.peek().kind)
	if !ok {
		return left, nil
	}
	p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); isComparison(tok.kind) {
		return nil, compileErrorf(p.src, tok.pos, "chained comparison %s needs parentheses or AND", describe(tok))
	}
	return &cmpNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseOperand() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		if i, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
			return &literalNode{val: i}, nil
		}
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, compileErrorf(p.src, tok.pos, "invalid number %q", tok.text)
		}
		return &literalNode{val: f}, nil
	case tokString:
		return &literalNode{val: tok.text}, nil
	case tokTrue:
		return &literalNode{val: true}, nil
	case tokFalse:
		return &literalNode{val: false}, nil
	case tokNull:
		return &literalNode{val: nil}, nil
	case tokIdent:
		return p.parsePath(tok)
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, compileErrorf(p.src, tok.pos, "unbalanced parenthesis: '(' is never closed")
		}
		return inner, nil
	case tokRParen:
		return nil, compileErrorf(p.src, tok.pos, "unbalanced parenthesis: unexpected ')'")
	case tokEOF:
		return nil, compileErrorf(p.src, tok.pos, "unexpected end of expression")
	default:
		return nil, compileErrorf(p.src, tok.pos, "expected operand, found %s", describe(tok))
	}
}

func (p *parser) parsePath(root token) (node, error) {
	segments := []string{root.text}
	for p.peek().kind == tokDot {
		dot := p.next()
		field := p.next()
		// Keywords are valid field names after a dot (task.Not, flags.null).
		if field.kind != tokIdent && keywordText(field) == "" {
			return nil, compileErrorf(p.src, dot.pos, "expected field name after '.'")
		}
		segments = append(segments, field.text)
	}
	if _, ok := p.seen[root.text]; !ok {
		p.seen[root.text] = struct{}{}
		p.symbols = append(p.symbols, root.text)
	}
	return &pathNode{segments: segments}, nil
}

// requireBoolean rejects literals that can never be booleans in a boolean position.
func (p *parser) requireBoolean(n node, pos int) error {
	lit, ok := n.(*literalNode)
	if !ok {
		return nil
	}
	if _, isBool := lit.val.(bool); isBool {
		return nil
	}
	return compileErrorf(p.src, pos, "%s is not a boolean expression", lit.String())
}

func comparisonOp(k tokenKind) (cmpOp, bool) {
	switch k {
	case tokEq:
		return opEq, true
	case tokNeq:
		return opNeq, true
	case tokGt:
		return opGt, true
	case tokGte:
		return opGte, true
	case tokLt:
		return opLt, true
	case tokLte:
		return opLte, true
	}
	return 0, false
}

func isComparison(k tokenKind) bool {
	_, ok := comparisonOp(k)
	return ok
}

func keywordText(tok token) string {
	switch tok.kind {
	case tokAnd, tokOr, tokNot, tokTrue, tokFalse, tokNull:
		if isIdentStart(rune(tok.text[0])) {
			return tok.text
		}
	}
	return ""
}

func describe(tok token) string {
	switch tok.kind {
	case tokIdent, tokNumber:
		return strconv.Quote(tok.text)
	case tokString:
		return "string " + strconv.Quote(tok.text)
	case tokEOF:
		return tok.kind.String()
	}
	return "'" + tok.text + "'"
}
