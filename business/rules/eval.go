package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EvalFaultError is a runtime evaluation fault (missing fact, malformed fact
// value). The calculator counts a fault as false for diffing but surfaces it
// distinctly, since it usually means a fact-schema mismatch.
type EvalFaultError struct {
	Fact    string
	Message string
}

func (e *EvalFaultError) Error() string {
	if e.Fact != "" {
		return fmt.Sprintf("rule evaluation fault on fact %q: %s", e.Fact, e.Message)
	}
	return fmt.Sprintf("rule evaluation fault: %s", e.Message)
}

// Evaluate runs the predicate against a fact bag. Keys are matched
// case-insensitively (the store writes lowercased keys). Pure: no I/O, no
// mutation of the predicate or the fact map.
func (p *Predicate) Evaluate(facts map[string]any) (bool, error) {
	return p.root.eval(facts)
}

// ---- AST nodes ----

type boolNode interface {
	eval(facts map[string]any) (bool, error)
}

type andNode struct {
	left, right boolNode
}

func (n *andNode) eval(facts map[string]any) (bool, error) {
	l, err := n.left.eval(facts)
	if err != nil {
		return false, err
	}
	if !l {
		return false, nil
	}
	return n.right.eval(facts)
}

type orNode struct {
	left, right boolNode
}

func (n *orNode) eval(facts map[string]any) (bool, error) {
	l, err := n.left.eval(facts)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return n.right.eval(facts)
}

type notNode struct {
	inner boolNode
}

func (n *notNode) eval(facts map[string]any) (bool, error) {
	v, err := n.inner.eval(facts)
	if err != nil {
		return false, err
	}
	return !v, nil
}

type cmpNode struct {
	op          tokenKind
	left, right operand
}

func (n *cmpNode) eval(facts map[string]any) (bool, error) {
	lv, err := n.left.value(facts)
	if err != nil {
		return false, err
	}
	rv, err := n.right.value(facts)
	if err != nil {
		return false, err
	}

	switch n.op {
	case tokEQ:
		return lv == rv, nil
	case tokNE:
		return lv != rv, nil
	}

	// numeric comparison; operand kinds were checked at compile time
	li, ok := lv.(int64)
	if !ok {
		return false, &EvalFaultError{Message: fmt.Sprintf("expected numeric value, got %T", lv)}
	}
	ri, ok := rv.(int64)
	if !ok {
		return false, &EvalFaultError{Message: fmt.Sprintf("expected numeric value, got %T", rv)}
	}

	switch n.op {
	case tokLT:
		return li < ri, nil
	case tokLE:
		return li <= ri, nil
	case tokGT:
		return li > ri, nil
	case tokGE:
		return li >= ri, nil
	default:
		return false, &EvalFaultError{Message: "unknown comparison operator"}
	}
}

type containsNode struct {
	set  operand
	item operand
}

func (n *containsNode) eval(facts map[string]any) (bool, error) {
	sv, err := n.set.value(facts)
	if err != nil {
		return false, err
	}
	iv, err := n.item.value(facts)
	if err != nil {
		return false, err
	}

	set, ok := sv.(map[string]struct{})
	if !ok {
		return false, &EvalFaultError{Message: fmt.Sprintf("expected set value, got %T", sv)}
	}
	item, ok := iv.(string)
	if !ok {
		return false, &EvalFaultError{Message: fmt.Sprintf("expected string value, got %T", iv)}
	}

	_, found := set[item]
	return found, nil
}

// ---- operands ----

type operand interface {
	kind() FactKind
	value(facts map[string]any) (any, error)
}

type intOperand struct {
	v int64
}

func (o *intOperand) kind() FactKind { return KindInt }

func (o *intOperand) value(map[string]any) (any, error) { return o.v, nil }

type strOperand struct {
	s string
}

func (o *strOperand) kind() FactKind { return KindString }

func (o *strOperand) value(map[string]any) (any, error) { return o.s, nil }

type fieldOperand struct {
	name     string
	factKind FactKind
}

func (o *fieldOperand) kind() FactKind { return o.factKind }

func (o *fieldOperand) value(facts map[string]any) (any, error) {
	raw, ok := lookupFact(facts, o.name)
	if !ok {
		return nil, &EvalFaultError{Fact: o.name, Message: "fact not present"}
	}

	switch o.factKind {
	case KindInt:
		return coerceInt(o.name, raw)
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return nil, &EvalFaultError{Fact: o.name, Message: fmt.Sprintf("expected string, got %T", raw)}
		}
		return s, nil
	case KindStringSet:
		return coerceSet(o.name, raw)
	default:
		return nil, &EvalFaultError{Fact: o.name, Message: "unknown fact kind"}
	}
}

// lookupFact matches fact keys case-insensitively without mutating the bag.
func lookupFact(facts map[string]any, name string) (any, bool) {
	if v, ok := facts[name]; ok {
		return v, true
	}
	for k, v := range facts {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// coerceInt accepts the numeric shapes a JSONB fact bag can produce.
func coerceInt(name string, raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, &EvalFaultError{Fact: name, Message: fmt.Sprintf("non-integer number %q", v.String())}
		}
		return i, nil
	default:
		return 0, &EvalFaultError{Fact: name, Message: fmt.Sprintf("expected number, got %T", raw)}
	}
}

// coerceSet accepts []string or the []any a decoded JSON array produces.
func coerceSet(name string, raw any) (map[string]struct{}, error) {
	out := make(map[string]struct{})

	switch v := raw.(type) {
	case []string:
		for _, s := range v {
			out[s] = struct{}{}
		}
	case []any:
		for _, el := range v {
			s, ok := el.(string)
			if !ok {
				return nil, &EvalFaultError{Fact: name, Message: fmt.Sprintf("set element is %T, expected string", el)}
			}
			out[s] = struct{}{}
		}
	default:
		return nil, &EvalFaultError{Fact: name, Message: fmt.Sprintf("expected set, got %T", raw)}
	}

	return out, nil
}
