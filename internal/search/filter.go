package search

import (
	"fmt"
	"strings"

	"github.com/fhircore/fhircore/internal/registry"
)

// The _filter sub-language (§4.4.6): a recursive-descent boolean expression
// over ordinary parameter comparisons, supporting and/or/not, parentheses,
// and a comparison-operator set distinct from the prefix/modifier grammar
// used elsewhere (eq,ne,co,sw,ew,gt,lt,ge,le,sa,eb,ap,pr,in,ni,ss,sb).

type filterExprType int

const (
	filterExprParam filterExprType = iota
	filterExprAnd
	filterExprOr
	filterExprNot
)

type filterExprNode struct {
	Type     filterExprType
	Left     *filterExprNode
	Right    *filterExprNode
	Child    *filterExprNode
	Param    string
	Operator string
	Value    string
}

var validFilterOperators = map[string]bool{
	"eq": true, "ne": true, "co": true, "sw": true, "ew": true,
	"gt": true, "lt": true, "ge": true, "le": true,
	"sa": true, "eb": true, "ap": true, "pr": true,
	"in": true, "ni": true, "ss": true, "sb": true,
}

type filterTokenType int

const (
	filterTokenWord filterTokenType = iota
	filterTokenString
	filterTokenLParen
	filterTokenRParen
	filterTokenAnd
	filterTokenOr
	filterTokenNot
)

type filterToken struct {
	Type  filterTokenType
	Value string
}

func tokenizeFilterExpr(filter string) ([]filterToken, error) {
	var tokens []filterToken
	i, n := 0, len(filter)

	for i < n {
		ch := filter[i]
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}
		if ch == '(' {
			tokens = append(tokens, filterToken{Type: filterTokenLParen, Value: "("})
			i++
			continue
		}
		if ch == ')' {
			tokens = append(tokens, filterToken{Type: filterTokenRParen, Value: ")"})
			i++
			continue
		}
		if ch == '"' {
			j := i + 1
			for j < n && filter[j] != '"' {
				j++
			}
			if j >= n {
				return nil, fmt.Errorf("unclosed quoted string starting at position %d", i)
			}
			tokens = append(tokens, filterToken{Type: filterTokenString, Value: filter[i+1 : j]})
			i = j + 1
			continue
		}

		j := i
		for j < n && filter[j] != ' ' && filter[j] != '\t' && filter[j] != '\n' &&
			filter[j] != '\r' && filter[j] != '(' && filter[j] != ')' && filter[j] != '"' {
			j++
		}
		word := filter[i:j]
		i = j

		switch strings.ToLower(word) {
		case "and":
			tokens = append(tokens, filterToken{Type: filterTokenAnd, Value: "and"})
		case "or":
			tokens = append(tokens, filterToken{Type: filterTokenOr, Value: "or"})
		case "not":
			tokens = append(tokens, filterToken{Type: filterTokenNot, Value: "not"})
		default:
			tokens = append(tokens, filterToken{Type: filterTokenWord, Value: word})
		}
	}
	return tokens, nil
}

type filterParser struct {
	tokens []filterToken
	pos    int
}

func (p *filterParser) peek() *filterToken {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *filterParser) advance() *filterToken {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

func (p *filterParser) expect(tt filterTokenType) (*filterToken, error) {
	t := p.peek()
	if t == nil || t.Type != tt {
		return nil, fmt.Errorf("unexpected token in filter expression")
	}
	return p.advance(), nil
}

// parseFilterExpression parses a _filter string into an expression tree.
func parseFilterExpression(filter string) (*filterExprNode, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, fmt.Errorf("empty filter expression")
	}
	tokens, err := tokenizeFilterExpr(filter)
	if err != nil {
		return nil, err
	}
	p := &filterParser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q in filter expression", p.tokens[p.pos].Value)
	}
	return expr, nil
}

func (p *filterParser) parseOr() (*filterExprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t == nil || t.Type != filterTokenOr {
			break
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &filterExprNode{Type: filterExprOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseAnd() (*filterExprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t == nil || t.Type != filterTokenAnd {
			break
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &filterExprNode{Type: filterExprAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseUnary() (*filterExprNode, error) {
	t := p.peek()
	if t != nil && t.Type == filterTokenNot {
		p.advance()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &filterExprNode{Type: filterExprNot, Child: child}, nil
	}
	return p.parsePrimary()
}

func (p *filterParser) parsePrimary() (*filterExprNode, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of filter expression")
	}
	if t.Type == filterTokenLParen {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(filterTokenRParen); err != nil {
			return nil, fmt.Errorf("expected ')' to close filter subexpression")
		}
		return expr, nil
	}
	return p.parseParam()
}

func (p *filterParser) parseParam() (*filterExprNode, error) {
	paramTok := p.peek()
	if paramTok == nil || (paramTok.Type != filterTokenWord && paramTok.Type != filterTokenString) {
		return nil, fmt.Errorf("expected parameter name in filter expression")
	}
	p.advance()

	opTok := p.peek()
	if opTok == nil || (opTok.Type != filterTokenWord && opTok.Type != filterTokenString) {
		return nil, fmt.Errorf("expected operator after parameter %q", paramTok.Value)
	}
	p.advance()
	if !validFilterOperators[opTok.Value] {
		return nil, fmt.Errorf("unknown filter operator %q", opTok.Value)
	}

	if opTok.Value == "pr" {
		return &filterExprNode{Type: filterExprParam, Param: paramTok.Value, Operator: "pr"}, nil
	}

	valTok := p.peek()
	if valTok == nil || (valTok.Type != filterTokenWord && valTok.Type != filterTokenString) {
		return nil, fmt.Errorf("expected value after operator %q for parameter %q", opTok.Value, paramTok.Value)
	}
	p.advance()

	return &filterExprNode{Type: filterExprParam, Param: paramTok.Value, Operator: opTok.Value, Value: valTok.Value}, nil
}

// compileFilter compiles a parsed _filter tree to SQL, resolving each leaf
// parameter's type and accessor from the registry so the same accessors
// dispatch.go uses for ordinary search parameters apply here too.
func compileFilter(b *argBuilder, reg *registry.Registry, resourceType string, expr *filterExprNode) (string, error) {
	switch expr.Type {
	case filterExprParam:
		return compileFilterParam(b, reg, resourceType, expr)
	case filterExprAnd:
		left, err := compileFilter(b, reg, resourceType, expr.Left)
		if err != nil {
			return "", err
		}
		right, err := compileFilter(b, reg, resourceType, expr.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s AND %s)", left, right), nil
	case filterExprOr:
		left, err := compileFilter(b, reg, resourceType, expr.Left)
		if err != nil {
			return "", err
		}
		right, err := compileFilter(b, reg, resourceType, expr.Right)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s OR %s)", left, right), nil
	case filterExprNot:
		child, err := compileFilter(b, reg, resourceType, expr.Child)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("NOT (%s)", child), nil
	default:
		return "", newFault(InvalidFilterExpression, "", fmt.Errorf("unknown filter node type"))
	}
}

func compileFilterParam(b *argBuilder, reg *registry.Registry, resourceType string, expr *filterExprNode) (string, error) {
	def, ok := reg.Lookup(resourceType, expr.Param)
	if !ok {
		return "", newFault(UnknownParameter, expr.Param, nil)
	}
	path := pathFor(def)
	accessor := path.Accessor()

	if expr.Operator == "pr" {
		return fmt.Sprintf("(%s IS NOT NULL)", accessor), nil
	}

	switch def.Type {
	case registry.TypeString:
		return filterStringClause(b, accessor, expr.Operator, expr.Value), nil
	case registry.TypeToken:
		return filterTokenClause(b, def, path, expr.Operator, expr.Value), nil
	case registry.TypeDate:
		return filterDateClause(b, accessor, expr.Operator, expr.Value)
	case registry.TypeNumber, registry.TypeQuantity:
		return filterNumberClause(b, accessor, expr.Operator, expr.Value), nil
	case registry.TypeReference:
		return filterReferenceClause(b, path, expr.Operator, expr.Value), nil
	default:
		return "", newFault(UnsupportedParameterType, expr.Param, fmt.Errorf("%q cannot be used in a _filter expression", def.Type))
	}
}

func filterStringClause(b *argBuilder, accessor, operator, value string) string {
	switch operator {
	case "eq":
		return fmt.Sprintf("%s = %s", accessor, b.bind(value))
	case "ne":
		return fmt.Sprintf("%s != %s", accessor, b.bind(value))
	case "co":
		return fmt.Sprintf("%s ILIKE %s", accessor, b.bind("%"+value+"%"))
	case "sw":
		return fmt.Sprintf("%s ILIKE %s", accessor, b.bind(value+"%"))
	case "ew":
		return fmt.Sprintf("%s ILIKE %s", accessor, b.bind("%"+value))
	default:
		return fmt.Sprintf("%s = %s", accessor, b.bind(value))
	}
}

func filterTokenClause(b *argBuilder, def *registry.SearchParameter, path Path, operator, value string) string {
	switch operator {
	case "in", "ni":
		parts := strings.Split(value, ",")
		placeholders := make([]string, len(parts))
		for i, v := range parts {
			placeholders[i] = b.bind(strings.TrimSpace(v))
		}
		op := "IN"
		if operator == "ni" {
			op = "NOT IN"
		}
		return fmt.Sprintf("(%s) %s (%s)", path.Accessor(), op, strings.Join(placeholders, ", "))
	case "ne":
		return fmt.Sprintf("%s != %s", path.Accessor(), b.bind(value))
	default: // eq, ss, sb treated as equality over the code accessor
		return fmt.Sprintf("%s = %s", path.Accessor(), b.bind(value))
	}
}

func filterDateClause(b *argBuilder, accessor, operator, value string) (string, error) {
	start, end, err := parseDateRange(value)
	if err != nil {
		return "", newFault(InvalidDateFormat, "", err)
	}
	switch operator {
	case "eq":
		return fmt.Sprintf("(%s >= %s AND %s < %s)", accessor, b.bind(start), accessor, b.bind(end)), nil
	case "ne":
		return fmt.Sprintf("NOT (%s >= %s AND %s < %s)", accessor, b.bind(start), accessor, b.bind(end)), nil
	case "gt", "sa":
		return fmt.Sprintf("%s >= %s", accessor, b.bind(end)), nil
	case "lt", "eb":
		return fmt.Sprintf("%s < %s", accessor, b.bind(start)), nil
	case "ge":
		return fmt.Sprintf("%s >= %s", accessor, b.bind(start)), nil
	case "le":
		return fmt.Sprintf("%s < %s", accessor, b.bind(end)), nil
	case "ap":
		lo, hi := approxRange(value)
		return fmt.Sprintf("(%s >= %s::timestamptz AND %s <= %s::timestamptz)", accessor, b.bind(lo), accessor, b.bind(hi)), nil
	default:
		return fmt.Sprintf("(%s >= %s AND %s < %s)", accessor, b.bind(start), accessor, b.bind(end)), nil
	}
}

func filterNumberClause(b *argBuilder, accessor, operator, value string) string {
	numeric := fmt.Sprintf("(%s)::numeric", accessor)
	switch operator {
	case "eq":
		return fmt.Sprintf("%s = %s", numeric, b.bind(value))
	case "ne":
		return fmt.Sprintf("%s != %s", numeric, b.bind(value))
	case "gt":
		return fmt.Sprintf("%s > %s", numeric, b.bind(value))
	case "lt":
		return fmt.Sprintf("%s < %s", numeric, b.bind(value))
	case "ge":
		return fmt.Sprintf("%s >= %s", numeric, b.bind(value))
	case "le":
		return fmt.Sprintf("%s <= %s", numeric, b.bind(value))
	default:
		return fmt.Sprintf("%s = %s", numeric, b.bind(value))
	}
}

func filterReferenceClause(b *argBuilder, path Path, operator, value string) string {
	accessor := path.Field("reference").Accessor()
	if operator == "ne" {
		return fmt.Sprintf("%s != %s", accessor, b.bind(value))
	}
	return fmt.Sprintf("%s = %s", accessor, b.bind(value))
}
