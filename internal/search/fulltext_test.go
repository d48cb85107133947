package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFullText_TextModeRestrictsToNarrative(t *testing.T) {
	b := &argBuilder{}
	clause, err := compileFullText(b, "_text", "cough and fever")
	require.NoError(t, err)
	assert.Contains(t, clause, "text")
	assert.Contains(t, clause, "div")
	assert.Equal(t, []interface{}{"cough and fever"}, b.args)
}

func TestCompileFullText_ContentModeMatchesWholeDocument(t *testing.T) {
	b := &argBuilder{}
	clause, err := compileFullText(b, "_content", "diabetes")
	require.NoError(t, err)
	assert.Contains(t, clause, "resource::text")
}

func TestCompileFullText_EmptyQueryFails(t *testing.T) {
	b := &argBuilder{}
	_, err := compileFullText(b, "_text", "   ")
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, InvalidFilterExpression, fault.FaultKind)
}

func TestCompileFullText_UnknownModeFails(t *testing.T) {
	b := &argBuilder{}
	_, err := compileFullText(b, "_bogus", "x")
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, InvalidFilterExpression, fault.FaultKind)
}
