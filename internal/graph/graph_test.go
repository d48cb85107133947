package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractReferences_SingleReference(t *testing.T) {
	content := map[string]interface{}{
		"subject": map[string]interface{}{"reference": "Patient/123"},
	}
	refs := extractReferences(content, "subject")
	require.Len(t, refs, 1)
	assert.Equal(t, "Patient/123", refs[0])
}

func TestExtractReferences_ArrayFlattens(t *testing.T) {
	content := map[string]interface{}{
		"participant": []interface{}{
			map[string]interface{}{"individual": map[string]interface{}{"reference": "Practitioner/1"}},
			map[string]interface{}{"individual": map[string]interface{}{"reference": "Practitioner/2"}},
		},
	}
	refs := extractReferences(content, "participant.individual")
	require.Len(t, refs, 2)
	assert.ElementsMatch(t, []string{"Practitioner/1", "Practitioner/2"}, refs)
}

func TestExtractReferences_MissingPathYieldsNone(t *testing.T) {
	content := map[string]interface{}{"foo": "bar"}
	assert.Empty(t, extractReferences(content, "subject"))
}

func TestSplitReference(t *testing.T) {
	tests := []struct {
		ref        string
		wantType   string
		wantID     string
		wantOK     bool
	}{
		{"Patient/123", "Patient", "123", true},
		{"urn:uuid:abc", "", "", false},
		{"", "", "", false},
		{"Patient/", "", "", false},
	}
	for _, tt := range tests {
		rt, id, ok := splitReference(tt.ref)
		assert.Equal(t, tt.wantOK, ok, tt.ref)
		if tt.wantOK {
			assert.Equal(t, tt.wantType, rt)
			assert.Equal(t, tt.wantID, id)
		}
	}
}

func TestTypeAllowed(t *testing.T) {
	noTarget := Link{}
	assert.True(t, typeAllowed(noTarget, "Observation"))

	constrained := Link{Target: []Target{{Type: "Patient"}}}
	assert.True(t, constrained.Target[0].Type == "Patient")
	assert.True(t, typeAllowed(constrained, "Patient"))
	assert.False(t, typeAllowed(constrained, "Group"))

	wildcard := Link{Target: []Target{{Type: "Patient"}, {Type: ""}}}
	assert.True(t, typeAllowed(wildcard, "AnythingElse"))
}
