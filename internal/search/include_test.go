package search

import (
	"context"
	"testing"

	"github.com/fhircore/fhircore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNavigate_DescendsThroughPlainFields(t *testing.T) {
	content := map[string]interface{}{
		"subject": map[string]interface{}{"reference": "Patient/123"},
	}
	nodes := navigate(content, []string{"subject"})
	require.Len(t, nodes, 1)
	assert.Equal(t, "Patient/123", nodes[0].(map[string]interface{})["reference"])
}

func TestNavigate_FlattensArrays(t *testing.T) {
	content := map[string]interface{}{
		"component": []interface{}{
			map[string]interface{}{"code": "a"},
			map[string]interface{}{"code": "b"},
		},
	}
	nodes := navigate(content, []string{"component", "code"})
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0])
	assert.Equal(t, "b", nodes[1])
}

func TestNavigate_MissingFieldYieldsNoNodes(t *testing.T) {
	content := map[string]interface{}{"foo": "bar"}
	nodes := navigate(content, []string{"subject"})
	assert.Empty(t, nodes)
}

func TestExtractReferences_SingleReferenceObject(t *testing.T) {
	content := map[string]interface{}{
		"subject": map[string]interface{}{"reference": "Patient/123"},
	}
	refs := extractReferences(content, "Observation.subject")
	assert.Equal(t, []string{"Patient/123"}, refs)
}

func TestExtractReferences_ArrayOfReferenceObjects(t *testing.T) {
	content := map[string]interface{}{
		"performer": []interface{}{
			map[string]interface{}{"reference": "Practitioner/1"},
			map[string]interface{}{"reference": "Practitioner/2"},
		},
	}
	refs := extractReferences(content, "Observation.performer")
	assert.ElementsMatch(t, []string{"Practitioner/1", "Practitioner/2"}, refs)
}

func TestExtractReferences_NoMatchYieldsEmpty(t *testing.T) {
	content := map[string]interface{}{"status": "final"}
	refs := extractReferences(content, "Observation.subject")
	assert.Empty(t, refs)
}

func TestSplitReference_ValidRelativeReference(t *testing.T) {
	targetType, id, ok := splitReference("Patient/123")
	require.True(t, ok)
	assert.Equal(t, "Patient", targetType)
	assert.Equal(t, "123", id)
}

func TestSplitReference_MalformedReferenceFails(t *testing.T) {
	_, _, ok := splitReference("not-a-reference")
	assert.False(t, ok)
}

func TestResolveForward_SourceTypeMismatchSkipsWithoutError(t *testing.T) {
	r := &IncludeResolver{}
	rows, err := r.resolveForward(context.Background(), "Encounter", nil, IncludeSpec{SourceType: "Observation", Param: "subject"}, map[string]bool{})
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestResolveReverse_EmptyBaseRowsShortCircuits(t *testing.T) {
	r := &IncludeResolver{}
	rows, err := r.resolveReverse(context.Background(), "Patient", nil, IncludeSpec{SourceType: "Observation", Param: "subject"}, map[string]bool{})
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestResolveReverse_MissingSourceTypeFails(t *testing.T) {
	r := &IncludeResolver{}
	_, err := r.resolveReverse(context.Background(), "Patient",
		[]storage.SearchRow{{ID: "1"}}, IncludeSpec{Param: "subject"}, map[string]bool{})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, AmbiguousTarget, fault.FaultKind)
}
