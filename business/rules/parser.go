package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// InvalidRuleError is the structured compile error returned to authors. An
// expression that produces one is never persisted.
type InvalidRuleError struct {
	Pos     int
	Message string
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule at position %d: %s", e.Pos, e.Message)
}

// Predicate is a compiled, reusable boolean rule. Safe for concurrent use.
type Predicate struct {
	root boolNode
	expr string
}

// Expression returns the source expression the predicate was compiled from.
func (p *Predicate) Expression() string {
	return p.expr
}

// Compile parses and type-checks an expression against a fact schema. The
// returned predicate evaluates without I/O or mutation.
func Compile(expr string, schema Schema) (*Predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &InvalidRuleError{Pos: 0, Message: "empty expression"}
	}

	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks, schema: schema}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &InvalidRuleError{Pos: tok.pos, Message: fmt.Sprintf("unexpected %q", tok.text)}
	}

	return &Predicate{root: root, expr: expr}, nil
}

// ---- parser ----

type parser struct {
	toks   []token
	pos    int
	schema Schema
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// parseOr := parseAnd ( '||' parseAnd )*
func (p *parser) parseOr() (boolNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}

	return left, nil
}

// parseAnd := parseUnary ( '&&' parseUnary )*
func (p *parser) parseAnd() (boolNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}

	return left, nil
}

// parseUnary := '!' parseUnary | '(' parseOr ')' | comparison
func (p *parser) parseUnary() (boolNode, error) {
	switch p.peek().kind {
	case tokNot:
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil

	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if tok := p.peek(); tok.kind != tokRParen {
			return nil, &InvalidRuleError{Pos: tok.pos, Message: "expected ')'"}
		}
		p.next()
		return inner, nil

	default:
		return p.parseComparison()
	}
}

// comparison := operand ( compOp operand | 'Contains' operand )
func (p *parser) parseComparison() (boolNode, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op := p.next()
	switch op.kind {
	case tokLT, tokLE, tokGT, tokGE:
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if left.kind() != KindInt || right.kind() != KindInt {
			return nil, &InvalidRuleError{Pos: op.pos, Message: fmt.Sprintf("operator %q requires numeric operands", op.text)}
		}
		return &cmpNode{op: op.kind, left: left, right: right}, nil

	case tokEQ, tokNE:
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if left.kind() == KindStringSet || right.kind() == KindStringSet {
			return nil, &InvalidRuleError{Pos: op.pos, Message: fmt.Sprintf("operator %q is not defined for set facts", op.text)}
		}
		if left.kind() != right.kind() {
			return nil, &InvalidRuleError{Pos: op.pos, Message: fmt.Sprintf("operator %q requires operands of the same type, got %s and %s", op.text, left.kind(), right.kind())}
		}
		return &cmpNode{op: op.kind, left: left, right: right}, nil

	case tokContains:
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if left.kind() != KindStringSet {
			return nil, &InvalidRuleError{Pos: op.pos, Message: "Contains requires a set fact on the left"}
		}
		if right.kind() != KindString {
			return nil, &InvalidRuleError{Pos: op.pos, Message: "Contains requires a string operand on the right"}
		}
		return &containsNode{set: left, item: right}, nil

	default:
		return nil, &InvalidRuleError{Pos: op.pos, Message: fmt.Sprintf("expected comparison operator, got %q", op.text)}
	}
}

// operand := identifier | integer | string literal
func (p *parser) parseOperand() (operand, error) {
	tok := p.next()

	switch tok.kind {
	case tokIdent:
		kind, ok := p.schema.Kind(tok.text)
		if !ok {
			return nil, &InvalidRuleError{Pos: tok.pos, Message: fmt.Sprintf("unknown fact %q", tok.text)}
		}
		return &fieldOperand{name: strings.ToLower(tok.text), factKind: kind}, nil

	case tokInt:
		v, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, &InvalidRuleError{Pos: tok.pos, Message: fmt.Sprintf("invalid number %q", tok.text)}
		}
		return &intOperand{v: v}, nil

	case tokString:
		return &strOperand{s: tok.text}, nil

	default:
		return nil, &InvalidRuleError{Pos: tok.pos, Message: fmt.Sprintf("expected fact or literal, got %q", tok.text)}
	}
}
