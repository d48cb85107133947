package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReferenceString_PlainStringReference(t *testing.T) {
	ref, ok := referenceString("Patient/123")
	assert.True(t, ok)
	assert.Equal(t, "Patient/123", ref)
}

func TestReferenceString_ReferenceObject(t *testing.T) {
	ref, ok := referenceString(map[string]interface{}{"reference": "Patient/123", "display": "Jane Smith"})
	assert.True(t, ok)
	assert.Equal(t, "Patient/123", ref)
}

func TestReferenceString_UnrecognizedShapeFails(t *testing.T) {
	_, ok := referenceString(42)
	assert.False(t, ok)
}

func TestTokenParts_BareStringCode(t *testing.T) {
	system, code := tokenParts("active")
	assert.Empty(t, system)
	assert.Equal(t, "active", code)
}

func TestTokenParts_CodingObjectWithSystemAndCode(t *testing.T) {
	system, code := tokenParts(map[string]interface{}{"system": "http://loinc.org", "code": "1234-5"})
	assert.Equal(t, "http://loinc.org", system)
	assert.Equal(t, "1234-5", code)
}

func TestTokenParts_IdentifierShapeUsesValueField(t *testing.T) {
	system, code := tokenParts(map[string]interface{}{"system": "http://mrn", "value": "998877"})
	assert.Equal(t, "http://mrn", system)
	assert.Equal(t, "998877", code)
}

func TestTokenParts_UnrecognizedShapeReturnsEmpty(t *testing.T) {
	system, code := tokenParts(map[string]interface{}{"nothing": "useful"})
	assert.Empty(t, system)
	assert.Empty(t, code)
}
