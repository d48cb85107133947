package search

import (
	"context"
	"testing"

	"github.com/fhircore/fhircore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchComposite_ArrayAnchoredComponents(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "component-code", Base: []string{"Resource"}, URL: "http://x/component-code",
		Type: registry.TypeToken, Expression: "code",
	}))
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "component-value", Base: []string{"Resource"}, URL: "http://x/component-value",
		Type: registry.TypeQuantity, Expression: "valueQuantity",
	}))

	def := &registry.SearchParameter{
		Code: "component-code-value-quantity", Type: registry.TypeComposite,
		Expression: "Observation.component", ElementHint: registry.HintArray,
		Components: []registry.Component{
			{DefinitionURL: "http://x/component-code", Expression: "code"},
			{DefinitionURL: "http://x/component-value", Expression: "valueQuantity"},
		},
	}

	b := &argBuilder{}
	p := RawParam{
		Chain:  []ChainSegment{{Code: def.Code}},
		Values: []ParamValue{{Raw: "1234-5$5.4"}},
	}
	clause, err := dispatchComposite(b, reg, def, p)
	require.NoError(t, err)
	assert.Contains(t, clause, "EXISTS")
	assert.Contains(t, clause, "jsonb_array_elements")
	assert.Contains(t, b.args, "1234-5")
}

func TestDispatchComposite_RootAnchoredComponents(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "code", Base: []string{"Resource"}, URL: "http://x/code",
		Type: registry.TypeToken, Expression: "code",
	}))
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "value-quantity", Base: []string{"Resource"}, URL: "http://x/value-quantity",
		Type: registry.TypeQuantity, Expression: "valueQuantity",
	}))

	def := &registry.SearchParameter{
		Code: "code-value-quantity", Type: registry.TypeComposite,
		Expression: "Observation",
		Components: []registry.Component{
			{DefinitionURL: "http://x/code", Expression: "code"},
			{DefinitionURL: "http://x/value-quantity", Expression: "valueQuantity"},
		},
	}

	b := &argBuilder{}
	p := RawParam{
		Chain:  []ChainSegment{{Code: def.Code}},
		Values: []ParamValue{{Raw: "1234-5$5.4"}},
	}
	clause, err := dispatchComposite(b, reg, def, p)
	require.NoError(t, err)
	assert.NotContains(t, clause, "jsonb_array_elements")
	assert.Contains(t, clause, "AND")
}

func TestDispatchComposite_WrongComponentCountFails(t *testing.T) {
	reg := newTestRegistry(t, nil)
	def := &registry.SearchParameter{
		Code: "code-value-quantity", Type: registry.TypeComposite,
		Expression: "Observation",
		Components: []registry.Component{
			{DefinitionURL: "http://x/code", Expression: "code"},
			{DefinitionURL: "http://x/value-quantity", Expression: "valueQuantity"},
		},
	}
	b := &argBuilder{}
	p := RawParam{Chain: []ChainSegment{{Code: def.Code}}, Values: []ParamValue{{Raw: "onlyonevalue"}}}
	_, err := dispatchComposite(b, reg, def, p)
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, InvalidChain, fault.FaultKind)
}

func TestDispatchComposite_NoComponentsDefinedFails(t *testing.T) {
	reg := newTestRegistry(t, nil)
	def := &registry.SearchParameter{Code: "bad", Type: registry.TypeComposite, Expression: "Observation"}
	b := &argBuilder{}
	p := RawParam{Chain: []ChainSegment{{Code: def.Code}}, Values: []ParamValue{{Raw: "a$b"}}}
	_, err := dispatchComposite(b, reg, def, p)
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, UnsupportedParameterType, fault.FaultKind)
}

func TestDispatchComposite_UnknownComponentURLFails(t *testing.T) {
	reg := newTestRegistry(t, nil)
	def := &registry.SearchParameter{
		Code: "bad", Type: registry.TypeComposite, Expression: "Observation",
		Components: []registry.Component{{DefinitionURL: "http://nowhere", Expression: "code"}},
	}
	b := &argBuilder{}
	p := RawParam{Chain: []ChainSegment{{Code: def.Code}}, Values: []ParamValue{{Raw: "x"}}}
	_, err := dispatchComposite(b, reg, def, p)
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, UnknownParameter, fault.FaultKind)
}
