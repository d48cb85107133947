package search

import (
	"context"
	"testing"

	"github.com/fhircore/fhircore/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSort_NoSpecsDefaultsToLastUpdated(t *testing.T) {
	reg := newTestRegistry(t, nil)
	clause, err := compileSort(reg, "Patient", nil)
	require.NoError(t, err)
	assert.Equal(t, "ORDER BY ts DESC, id", clause)
}

func TestCompileSort_LastUpdatedAndIdBypassRegistry(t *testing.T) {
	reg := newTestRegistry(t, nil)
	clause, err := compileSort(reg, "Patient", []SortSpec{{Code: "_lastUpdated", Descending: true}, {Code: "_id"}})
	require.NoError(t, err)
	assert.Contains(t, clause, "ts DESC")
	assert.Contains(t, clause, "id ASC")
}

func TestCompileSort_NumericParamCastsToNumeric(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "value", Base: []string{"Resource"}, Type: registry.TypeNumber, Expression: "Observation.valueInteger",
	}))
	clause, err := compileSort(reg, "Observation", []SortSpec{{Code: "value"}})
	require.NoError(t, err)
	assert.Contains(t, clause, "::numeric")
}

func TestCompileSort_DateParamCastsToTimestamptz(t *testing.T) {
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Register(context.Background(), &registry.SearchParameter{
		Code: "date", Base: []string{"Resource"}, Type: registry.TypeDate, Expression: "Observation.effectiveDateTime",
	}))
	clause, err := compileSort(reg, "Observation", []SortSpec{{Code: "date"}})
	require.NoError(t, err)
	assert.Contains(t, clause, "::timestamptz")
}

func TestCompileSort_UnknownParamFails(t *testing.T) {
	reg := newTestRegistry(t, nil)
	_, err := compileSort(reg, "Observation", []SortSpec{{Code: "nope"}})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, UnknownParameter, fault.FaultKind)
}

func TestCompileSort_StableTiebreakAlwaysAppended(t *testing.T) {
	reg := newTestRegistry(t, nil)
	clause, err := compileSort(reg, "Patient", []SortSpec{{Code: "_id"}})
	require.NoError(t, err)
	assert.Contains(t, clause, "id ASC NULLS LAST, id ASC")
}
