package storage

import (
	"testing"

	"github.com/fhircore/fhircore/internal/codec"
	"github.com/stretchr/testify/assert"
)

func TestToEnvelope_CopiesFieldsFromCodecEnvelope(t *testing.T) {
	src := &codec.Envelope{
		ResourceType: "Patient",
		ID:           "p1",
		Content:      map[string]interface{}{"name": "Smith"},
	}

	env := toEnvelope(src, 3, 42, StatusUpdated)

	assert.Equal(t, "Patient", env.ResourceType)
	assert.Equal(t, "p1", env.ID)
	assert.Equal(t, 3, env.VersionID)
	assert.Equal(t, int64(42), env.TxID)
	assert.Equal(t, StatusUpdated, env.Status)
	assert.Equal(t, src.Content, env.Content)
}

func TestCompiledQuery_CarriesCountStatementIndependently(t *testing.T) {
	q := CompiledQuery{
		SQL:       "SELECT id, version_id, tx_id, resource FROM fhir_patient WHERE resource->>'active' = $1",
		Args:      []interface{}{"true"},
		CountSQL:  "SELECT count(*) FROM fhir_patient WHERE resource->>'active' = $1",
		CountArgs: []interface{}{"true"},
	}
	assert.NotEmpty(t, q.CountSQL)
	assert.Equal(t, q.Args, q.CountArgs)
}
