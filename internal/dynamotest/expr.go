package dynamotest

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// predicate reports whether an item satisfies an expression.
type predicate func(item map[string]types.AttributeValue) bool

func always(map[string]types.AttributeValue) bool { return true }

// compile parses a condition, filter or key condition expression.
//
// Supported grammar:
//
//	expr    := and ("OR" and)*
//	and     := unary ("AND" unary)*
//	unary   := "NOT" unary | primary
//	primary := "(" expr ")"
//	         | ("attribute_exists" | "attribute_not_exists") "(" path ")"
//	         | operand cmp operand
//	cmp     := "=" | "<>" | "<" | "<=" | ">" | ">="
//	operand := path | ":value"
//	path    := name ("." name)*   where name is "#ref" or a literal name
func compile(expr string, names map[string]string, values map[string]types.AttributeValue) (predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return always, nil
	}
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, names: names, values: values}
	pred, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected token %q in %q", p.toks[p.pos], expr)
	}
	return pred, nil
}

func tokenize(expr string) ([]string, error) {
	var toks []string
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')' || c == ',' || c == '=':
			toks = append(toks, string(c))
			i++
		case c == '<' || c == '>':
			if i+1 < len(expr) && (expr[i+1] == '=' || (c == '<' && expr[i+1] == '>')) {
				toks = append(toks, expr[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		case isWordChar(c):
			j := i
			for j < len(expr) && isWordChar(expr[j]) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q in %q", c, expr)
		}
	}
	return toks, nil
}

func isWordChar(c byte) bool {
	return c == '#' || c == ':' || c == '_' || c == '.' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	toks   []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
}

func (p *parser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(tok string) error {
	if got := p.next(); got != tok {
		return fmt.Errorf("expected %q, got %q", tok, got)
	}
	return nil
}

func (p *parser) parseOr() (predicate, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(item map[string]types.AttributeValue) bool { return l(item) || r(item) }
	}
	return left, nil
}

func (p *parser) parseAnd() (predicate, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for strings.EqualFold(p.peek(), "AND") {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l, r := left, right
		left = func(item map[string]types.AttributeValue) bool { return l(item) && r(item) }
	}
	return left, nil
}

func (p *parser) parseUnary() (predicate, error) {
	if strings.EqualFold(p.peek(), "NOT") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return func(item map[string]types.AttributeValue) bool { return !inner(item) }, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (predicate, error) {
	tok := p.peek()
	switch {
	case tok == "(":
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return inner, nil

	case tok == "attribute_exists" || tok == "attribute_not_exists":
		p.next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		path, err := p.path(p.next())
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		want := tok == "attribute_exists"
		return func(item map[string]types.AttributeValue) bool {
			_, ok := lookup(item, path)
			return ok == want
		}, nil
	}

	left, err := p.operand(p.next())
	if err != nil {
		return nil, err
	}
	op := p.next()
	switch op {
	case "=", "<>", "<", "<=", ">", ">=":
	default:
		return nil, fmt.Errorf("expected comparison operator, got %q", op)
	}
	right, err := p.operand(p.next())
	if err != nil {
		return nil, err
	}
	return func(item map[string]types.AttributeValue) bool {
		a, okA := left(item)
		b, okB := right(item)
		if !okA || !okB {
			return false
		}
		return compare(a, b, op)
	}, nil
}

type operand func(item map[string]types.AttributeValue) (types.AttributeValue, bool)

func (p *parser) operand(tok string) (operand, error) {
	if tok == "" {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if strings.HasPrefix(tok, ":") {
		v, ok := p.values[tok]
		if !ok {
			return nil, fmt.Errorf("undefined expression attribute value %q", tok)
		}
		return func(map[string]types.AttributeValue) (types.AttributeValue, bool) { return v, true }, nil
	}
	path, err := p.path(tok)
	if err != nil {
		return nil, err
	}
	return func(item map[string]types.AttributeValue) (types.AttributeValue, bool) {
		return lookup(item, path)
	}, nil
}

func (p *parser) path(tok string) ([]string, error) {
	if tok == "" || strings.HasPrefix(tok, ":") {
		return nil, fmt.Errorf("expected attribute path, got %q", tok)
	}
	var path []string
	for _, seg := range strings.Split(tok, ".") {
		if strings.HasPrefix(seg, "#") {
			name, ok := p.names[seg]
			if !ok {
				return nil, fmt.Errorf("undefined expression attribute name %q", seg)
			}
			seg = name
		}
		path = append(path, seg)
	}
	return path, nil
}

func lookup(item map[string]types.AttributeValue, path []string) (types.AttributeValue, bool) {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: item}
	for _, seg := range path {
		m, ok := cur.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false
		}
		cur, ok = m.Value[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func compare(a, b types.AttributeValue, op string) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>"
		}
		return ordered(strings.Compare(av.Value, bv.Value), op)
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>"
		}
		x, errX := strconv.ParseFloat(av.Value, 64)
		y, errY := strconv.ParseFloat(bv.Value, 64)
		if errX != nil || errY != nil {
			return false
		}
		switch {
		case x < y:
			return ordered(-1, op)
		case x > y:
			return ordered(1, op)
		}
		return ordered(0, op)
	}
	equal := reflect.DeepEqual(a, b)
	switch op {
	case "=":
		return equal
	case "<>":
		return !equal
	}
	return false
}

func ordered(cmp int, op string) bool {
	switch op {
	case "=":
		return cmp == 0
	case "<>":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	}
	return false
}
