package search

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery_SimpleParam(t *testing.T) {
	values := url.Values{"name": {"Smith"}}
	params, hasParams, _, _, err := ParseQuery(values)
	require.NoError(t, err)
	require.Empty(t, hasParams)
	require.Len(t, params, 1)
	assert.Equal(t, "name", params[0].Leaf().Code)
	assert.False(t, params[0].IsChained())
	assert.Equal(t, "Smith", params[0].Values[0].Raw)
}

func TestParseQuery_ChainedParam(t *testing.T) {
	values := url.Values{"subject:Patient.name": {"Smith"}}
	params, _, _, _, err := ParseQuery(values)
	require.NoError(t, err)
	require.Len(t, params, 1)
	require.True(t, params[0].IsChained())
	assert.Equal(t, "subject", params[0].Chain[0].Code)
	assert.Equal(t, "Patient", params[0].Chain[0].TargetType)
	assert.Equal(t, "name", params[0].Leaf().Code)
}

func TestParseQuery_ModifierOnLeaf(t *testing.T) {
	values := url.Values{"name:exact": {"Smith"}}
	params, _, _, _, err := ParseQuery(values)
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, ModifierExact, params[0].Modifier)
}

func TestParseQuery_TypeModifierDisambiguatesReference(t *testing.T) {
	values := url.Values{"subject:Patient": {"123"}}
	params, _, _, _, err := ParseQuery(values)
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, ModifierType, params[0].Modifier)
	assert.Equal(t, "Patient", params[0].TargetType)
}

func TestParseQuery_HasParam(t *testing.T) {
	values := url.Values{"_has:Observation:subject:code": {"1234-5"}}
	_, hasParams, _, _, err := ParseQuery(values)
	require.NoError(t, err)
	require.Len(t, hasParams, 1)
	assert.Equal(t, "Observation", hasParams[0].Segments[0].SourceType)
	assert.Equal(t, "subject", hasParams[0].Segments[0].RefParam)
	assert.Equal(t, "code", hasParams[0].LeafParam)
	assert.Equal(t, "1234-5", hasParams[0].Values[0].Raw)
}

func TestParseQuery_NestedHasParam(t *testing.T) {
	values := url.Values{"_has:Observation:subject:_has:AuditEvent:entity:code": {"x"}}
	_, hasParams, _, _, err := ParseQuery(values)
	require.NoError(t, err)
	require.Len(t, hasParams, 1)
	require.Len(t, hasParams[0].Segments, 2)
	assert.Equal(t, "Observation", hasParams[0].Segments[0].SourceType)
	assert.Equal(t, "AuditEvent", hasParams[0].Segments[1].SourceType)
	assert.Equal(t, "entity", hasParams[0].Segments[1].RefParam)
}

func TestParseQuery_ControlParams(t *testing.T) {
	values := url.Values{
		"_count":      {"25"},
		"_offset":     {"50"},
		"_sort":       {"-_lastUpdated,name"},
		"_total":      {"accurate"},
		"_include":    {"Observation:subject:Patient"},
		"_revinclude": {"AuditEvent:entity"},
	}
	_, _, control, _, err := ParseQuery(values)
	require.NoError(t, err)
	assert.Equal(t, 25, control.Count)
	assert.Equal(t, 50, control.Offset)
	require.Len(t, control.Sort, 2)
	assert.Equal(t, "_lastUpdated", control.Sort[0].Code)
	assert.True(t, control.Sort[0].Descending)
	assert.Equal(t, "name", control.Sort[1].Code)
	assert.False(t, control.Sort[1].Descending)
	assert.Equal(t, TotalAccurate, control.Total)
	require.Len(t, control.Include, 1)
	assert.Equal(t, "Observation", control.Include[0].SourceType)
	assert.Equal(t, "Patient", control.Include[0].TargetType)
	require.Len(t, control.RevInclude, 1)
	assert.Equal(t, "AuditEvent", control.RevInclude[0].SourceType)
}

func TestParseQuery_IncludeIterate(t *testing.T) {
	values := url.Values{"_include": {"Organization:partof:Organization:iterate"}}
	_, _, control, _, err := ParseQuery(values)
	require.NoError(t, err)
	require.Len(t, control.Include, 1)
	assert.True(t, control.Include[0].Iterate)
	assert.Equal(t, "Organization", control.Include[0].TargetType)
}

func TestParseQuery_CountDefaultsToUnset(t *testing.T) {
	_, _, control, _, err := ParseQuery(url.Values{"name": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, -1, control.Count)
}

func TestParsePrefixedValue_ExtractsKnownPrefix(t *testing.T) {
	v := ParsePrefixedValue("ge2020-01-01")
	assert.Equal(t, PrefixGe, v.Prefix)
	assert.Equal(t, "2020-01-01", v.Raw)
}

func TestParsePrefixedValue_DefaultsToEqWhenNoPrefix(t *testing.T) {
	v := ParsePrefixedValue("2020-01-01")
	assert.Equal(t, PrefixEq, v.Prefix)
	assert.Equal(t, "2020-01-01", v.Raw)
}

func TestParseValues_RespectsEscapedComma(t *testing.T) {
	out := parseValues([]string{`a\,b,c`})
	require.Len(t, out, 2)
	assert.Equal(t, "a,b", out[0].Raw)
	assert.Equal(t, "c", out[1].Raw)
}

func TestParseQuery_InvalidHasParamShape(t *testing.T) {
	_, _, _, _, err := ParseQuery(url.Values{"_has:Observation": {"x"}})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, InvalidChain, fault.FaultKind)
}
