package search

import (
	"context"
	"testing"

	"github.com/fhircore/fhircore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeFilterExpr_BasicComparison(t *testing.T) {
	tokens, err := tokenizeFilterExpr(`name co "Smith"`)
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, filterTokenWord, tokens[0].Type)
	assert.Equal(t, "name", tokens[0].Value)
	assert.Equal(t, filterTokenWord, tokens[1].Type)
	assert.Equal(t, "co", tokens[1].Value)
	assert.Equal(t, filterTokenString, tokens[2].Type)
	assert.Equal(t, "Smith", tokens[2].Value)
}

func TestTokenizeFilterExpr_UnclosedQuoteFails(t *testing.T) {
	_, err := tokenizeFilterExpr(`name co "Smith`)
	require.Error(t, err)
}

func TestTokenizeFilterExpr_RecognizesBooleanKeywords(t *testing.T) {
	tokens, err := tokenizeFilterExpr("a pr and not (b eq 1)")
	require.NoError(t, err)
	var kinds []filterTokenType
	for _, tok := range tokens {
		kinds = append(kinds, tok.Type)
	}
	assert.Contains(t, kinds, filterTokenAnd)
	assert.Contains(t, kinds, filterTokenNot)
	assert.Contains(t, kinds, filterTokenLParen)
	assert.Contains(t, kinds, filterTokenRParen)
}

func TestParseFilterExpression_SimpleAndOr(t *testing.T) {
	expr, err := parseFilterExpression(`status eq active and category eq "vital-signs"`)
	require.NoError(t, err)
	assert.Equal(t, filterExprAnd, expr.Type)
	assert.Equal(t, "status", expr.Left.Param)
	assert.Equal(t, "category", expr.Right.Param)
}

func TestParseFilterExpression_OrHasLowerPrecedenceThanAnd(t *testing.T) {
	expr, err := parseFilterExpression("a eq 1 and b eq 2 or c eq 3")
	require.NoError(t, err)
	require.Equal(t, filterExprOr, expr.Type)
	assert.Equal(t, filterExprAnd, expr.Left.Type)
	assert.Equal(t, "c", expr.Right.Param)
}

func TestParseFilterExpression_NotAndParens(t *testing.T) {
	expr, err := parseFilterExpression("not (a eq 1 or b eq 2)")
	require.NoError(t, err)
	require.Equal(t, filterExprNot, expr.Type)
	assert.Equal(t, filterExprOr, expr.Child.Type)
}

func TestParseFilterExpression_PresentOperatorHasNoValue(t *testing.T) {
	expr, err := parseFilterExpression("name pr")
	require.NoError(t, err)
	assert.Equal(t, "pr", expr.Operator)
	assert.Empty(t, expr.Value)
}

func TestParseFilterExpression_UnknownOperatorFails(t *testing.T) {
	_, err := parseFilterExpression("name bogus Smith")
	require.Error(t, err)
}

func TestParseFilterExpression_EmptyExpressionFails(t *testing.T) {
	_, err := parseFilterExpression("   ")
	require.Error(t, err)
}

func TestCompileFilter_StringContainsOperator(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "name", Base: []string{"Resource"}, Type: registry.TypeString, Expression: "Patient.name.family",
	}))
	expr, err := parseFilterExpression(`name co "Smith"`)
	require.NoError(t, err)
	b := &argBuilder{}
	clause, err := compileFilter(b, reg, "Patient", expr)
	require.NoError(t, err)
	assert.Contains(t, clause, "ILIKE")
	assert.Equal(t, []interface{}{"%Smith%"}, b.args)
}

func TestCompileFilter_AndProducesConjunction(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "status", Base: []string{"Resource"}, Type: registry.TypeToken, Expression: "Observation.status",
	}))
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "category", Base: []string{"Resource"}, Type: registry.TypeToken, Expression: "Observation.category",
	}))
	expr, err := parseFilterExpression("status eq final and category eq vital-signs")
	require.NoError(t, err)
	b := &argBuilder{}
	clause, err := compileFilter(b, reg, "Observation", expr)
	require.NoError(t, err)
	assert.Contains(t, clause, "AND")
}

func TestCompileFilter_UnknownParameterFails(t *testing.T) {
	reg := newTestRegistry(t, nil)
	expr, err := parseFilterExpression("nope eq x")
	require.NoError(t, err)
	b := &argBuilder{}
	_, err = compileFilter(b, reg, "Observation", expr)
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, UnknownParameter, fault.FaultKind)
}

func TestCompileFilter_PresentOperator(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "name", Base: []string{"Resource"}, Type: registry.TypeString, Expression: "Patient.name.family",
	}))
	expr, err := parseFilterExpression("name pr")
	require.NoError(t, err)
	b := &argBuilder{}
	clause, err := compileFilter(b, reg, "Patient", expr)
	require.NoError(t, err)
	assert.Contains(t, clause, "IS NOT NULL")
}

func TestCompileFilter_UnsupportedTypeForFilterFails(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "weird", Base: []string{"Resource"}, Type: registry.TypeComposite, Expression: "Observation",
	}))
	expr, err := parseFilterExpression("weird eq x")
	require.NoError(t, err)
	b := &argBuilder{}
	_, err = compileFilter(b, reg, "Observation", expr)
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, UnsupportedParameterType, fault.FaultKind)
}

func TestFilterNumberClause_GreaterThan(t *testing.T) {
	b := &argBuilder{}
	clause := filterNumberClause(b, "resource->>'value'", "gt", "5")
	assert.Contains(t, clause, ">")
	assert.Equal(t, []interface{}{"5"}, b.args)
}

func TestFilterTokenClause_InOperatorBuildsList(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "status", Type: registry.TypeToken}
	path := TranslatePath("Observation.status")
	clause := filterTokenClause(b, def, path, "in", "a, b, c")
	assert.Contains(t, clause, "IN")
	assert.Equal(t, []interface{}{"a", "b", "c"}, b.args)
}
