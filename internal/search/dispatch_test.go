package search

import (
	"testing"

	"github.com/fhircore/fhircore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatch_StringDefaultPrefixMatch(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "name", Type: registry.TypeString, Expression: "Patient.name.family"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "name"}}, Values: []ParamValue{{Raw: "Smith"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "ILIKE")
	assert.Equal(t, []interface{}{"Smith%"}, b.args)
}

func TestDispatch_StringExactModifier(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "name", Type: registry.TypeString, Expression: "Patient.name.family"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "name"}}, Modifier: ModifierExact, Values: []ParamValue{{Raw: "Smith"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "=")
	assert.NotContains(t, clause, "ILIKE")
}

func TestDispatch_HumanNameHintSearchesMultipleFields(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "name", Type: registry.TypeString, Expression: "Patient.name", ElementHint: registry.HintHumanName}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "name"}}, Values: []ParamValue{{Raw: "Smith"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "family")
	assert.Contains(t, clause, "given")
}

func TestDispatch_TokenPlainCode(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "status", Type: registry.TypeToken, Expression: "Encounter.status"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "status"}}, Values: []ParamValue{{Raw: "finished"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "=")
	assert.Equal(t, []interface{}{"finished"}, b.args)
}

func TestDispatch_TokenSystemPipeCode(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "code", Type: registry.TypeToken, Expression: "Observation.code", ElementHint: registry.HintCodeableConcept}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "code"}}, Values: []ParamValue{{Raw: "http://loinc.org|1234-5"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "jsonb_array_elements")
	assert.Contains(t, b.args, "http://loinc.org")
	assert.Contains(t, b.args, "1234-5")
}

func TestDispatch_TokenNotModifierNegates(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "status", Type: registry.TypeToken, Expression: "Encounter.status"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "status"}}, Modifier: ModifierNot, Values: []ParamValue{{Raw: "finished"}}})
	require.NoError(t, err)
	assert.True(t, clause[:3] == "NOT")
}

func TestDispatch_TokenTerminologyModifierFailsWithoutBridge(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "code", Type: registry.TypeToken, Expression: "Observation.code"}
	_, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "code"}}, Modifier: ModifierIn, Values: []ParamValue{{Raw: "http://x/vs"}}})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, TerminologyUnavailable, fault.FaultKind)
}

func TestDispatch_NumberPrefixes(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "value", Type: registry.TypeNumber, Expression: "Observation.valueInteger"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "value"}}, Values: []ParamValue{{Prefix: PrefixGe, Raw: "5"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, ">=")
}

func TestDispatch_QuantityWithSystemAndCode(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "value-quantity", Type: registry.TypeQuantity, Expression: "Observation.valueQuantity"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "value-quantity"}}, Values: []ParamValue{{Prefix: PrefixEq, Raw: "5.4|http://unitsofmeasure.org|mg"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "system")
	assert.Contains(t, clause, "code")
}

func TestDispatch_DateEqualityIsRangeOverlap(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "date", Type: registry.TypeDate, Expression: "Observation.effectiveDateTime"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "date"}}, Values: []ParamValue{{Prefix: PrefixEq, Raw: "2020-01-01"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, ">=")
	assert.Contains(t, clause, "<")
}

func TestDispatch_DateInvalidFormatFails(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "date", Type: registry.TypeDate, Expression: "Observation.effectiveDateTime"}
	_, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "date"}}, Values: []ParamValue{{Raw: "not-a-date"}}})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, InvalidDateFormat, fault.FaultKind)
}

func TestDispatch_ReferenceLiteralMatch(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "subject", Type: registry.TypeReference, Expression: "Observation.subject"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "subject"}}, Values: []ParamValue{{Raw: "Patient/123"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "reference")
	assert.Equal(t, []interface{}{"Patient/123"}, b.args)
}

func TestDispatch_URIBelowModifier(t *testing.T) {
	b := &argBuilder{}
	def := &registry.SearchParameter{Code: "url", Type: registry.TypeURI, Expression: "ValueSet.url"}
	clause, err := dispatch(b, def, RawParam{Chain: []ChainSegment{{Code: "url"}}, Modifier: "below", Values: []ParamValue{{Raw: "http://example.org"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "LIKE")
}

func TestDispatch_MissingModifierTrue(t *testing.T) {
	def := &registry.SearchParameter{Code: "name", Type: registry.TypeString, Expression: "Patient.name"}
	clause, err := dispatchMissing(def, RawParam{Chain: []ChainSegment{{Code: "name"}}, Modifier: ModifierMissing, Values: []ParamValue{{Raw: "true"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "IS NULL")
}

func TestDispatch_MissingModifierFalse(t *testing.T) {
	def := &registry.SearchParameter{Code: "name", Type: registry.TypeString, Expression: "Patient.name"}
	clause, err := dispatchMissing(def, RawParam{Chain: []ChainSegment{{Code: "name"}}, Modifier: ModifierMissing, Values: []ParamValue{{Raw: "false"}}})
	require.NoError(t, err)
	assert.Contains(t, clause, "NOT")
	assert.Contains(t, clause, "IS NULL")
}

func TestArgBuilder_BindReturnsIncrementingPlaceholders(t *testing.T) {
	b := &argBuilder{}
	assert.Equal(t, "$1", b.bind("a"))
	assert.Equal(t, "$2", b.bind("b"))
	assert.Equal(t, []interface{}{"a", "b"}, b.args)
}
