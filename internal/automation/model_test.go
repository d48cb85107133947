package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAutomation_Compiled(t *testing.T) {
	assert.False(t, Automation{}.Compiled())
	assert.True(t, Automation{Steps: []Step{{Action: ActionLog}}}.Compiled())
}

func TestAutomation_Timeout(t *testing.T) {
	assert.Equal(t, 5000, int(Automation{}.Timeout().Milliseconds()))
	assert.Equal(t, 1500, int(Automation{TimeoutMS: 1500}.Timeout().Milliseconds()))
}

func TestTrigger_MatchesEvent(t *testing.T) {
	trig := Trigger{Kind: TriggerResourceEvent, ResourceType: "Patient", EventTypes: []string{"create", "update"}}

	assert.True(t, trig.MatchesEvent("Patient", "create"))
	assert.True(t, trig.MatchesEvent("Patient", "update"))
	assert.False(t, trig.MatchesEvent("Patient", "delete"))
	assert.False(t, trig.MatchesEvent("Observation", "create"))

	assert.False(t, Trigger{Kind: TriggerCron}.MatchesEvent("Patient", "create"))

	any := Trigger{Kind: TriggerResourceEvent, ResourceType: "Patient"}
	assert.True(t, any.MatchesEvent("Patient", "delete"))
}
