package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseReference_Relative(t *testing.T) {
	ref := ParseReference("Patient/123", "")
	assert.Equal(t, ReferenceRelative, ref.Kind)
	assert.Equal(t, "Patient", ref.ResourceType)
	assert.Equal(t, "123", ref.ID)
}

func TestParseReference_Contained(t *testing.T) {
	ref := ParseReference("#obs1", "")
	assert.Equal(t, ReferenceContained, ref.Kind)
	assert.Equal(t, "obs1", ref.ID)
}

func TestParseReference_AbsoluteNormalizedByBaseURL(t *testing.T) {
	ref := ParseReference("https://fhir.example.org/Patient/123", "https://fhir.example.org")
	assert.Equal(t, ReferenceRelative, ref.Kind)
	assert.Equal(t, "Patient", ref.ResourceType)
	assert.Equal(t, "123", ref.ID)
}

func TestParseReference_AbsoluteForeignServer(t *testing.T) {
	ref := ParseReference("https://other.example.org/fhir/Patient/999", "https://fhir.example.org")
	assert.Equal(t, ReferenceAbsolute, ref.Kind)
	assert.Equal(t, "Patient", ref.ResourceType)
	assert.Equal(t, "999", ref.ID)
}

func TestParseReference_Opaque(t *testing.T) {
	ref := ParseReference("urn:uuid:1234", "")
	assert.Equal(t, ReferenceOpaque, ref.Kind)
}

func TestParseReference_HistoryTruncatesToBaseID(t *testing.T) {
	ref := ParseReference("Patient/123/_history/2", "")
	assert.Equal(t, ReferenceRelative, ref.Kind)
	assert.Equal(t, "123", ref.ID)
}
