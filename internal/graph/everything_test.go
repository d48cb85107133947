package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccumulator_DedupesAndCaps(t *testing.T) {
	acc := newAccumulator(0, MaxEverythingResources)
	acc.add("Observation", "1", map[string]interface{}{"status": "final"})
	acc.add("Observation", "1", map[string]interface{}{"status": "final"}) // duplicate, ignored
	acc.add("Observation", "2", map[string]interface{}{"status": "final"})

	assert.Len(t, acc.entries, 2)
	assert.True(t, acc.seen("Observation", "1"))
	assert.False(t, acc.seen("Observation", "3"))
}

func TestAccumulator_EntryCarriesResourceTypeAndID(t *testing.T) {
	acc := newAccumulator(0, MaxEverythingResources)
	acc.add("Patient", "42", map[string]interface{}{"active": true})
	require := acc.entries[0].Resource.(map[string]interface{})
	assert.Equal(t, "Patient", require["resourceType"])
	assert.Equal(t, "42", require["id"])
	assert.Equal(t, true, require["active"])
}

func TestAccumulator_PerTypeCap(t *testing.T) {
	acc := newAccumulator(1, MaxEverythingResources)
	acc.add("Observation", "1", map[string]interface{}{})
	acc.add("Observation", "2", map[string]interface{}{}) // over the per-type cap, dropped
	acc.add("Condition", "1", map[string]interface{}{})   // different type, own budget

	assert.Len(t, acc.entries, 2)
	assert.True(t, acc.seen("Observation", "1"))
	assert.False(t, acc.seen("Observation", "2"))
	assert.True(t, acc.seen("Condition", "1"))
}

func TestWithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	since := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, withinWindow(now, EverythingParams{}))
	assert.True(t, withinWindow(now, EverythingParams{Since: since}))
	assert.False(t, withinWindow(now, EverythingParams{Since: future}))
	assert.False(t, withinWindow(now, EverythingParams{Start: future}))
	assert.False(t, withinWindow(now, EverythingParams{End: since}))
}
