package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableName_LowercasesType(t *testing.T) {
	table, err := tableName("Patient")
	assert.NoError(t, err)
	assert.Equal(t, "fhir_patient", table)
}

func TestTableName_RejectsInjectionAttempt(t *testing.T) {
	_, err := tableName("Patient; DROP TABLE fhir_patient;--")
	assert.Error(t, err)
}

func TestHistoryTableName_MatchesTableName(t *testing.T) {
	table, err := historyTableName("Observation")
	assert.NoError(t, err)
	assert.Equal(t, "fhir_history_observation", table)
}

func TestTableName_RejectsEmpty(t *testing.T) {
	_, err := tableName("")
	assert.Error(t, err)
}
