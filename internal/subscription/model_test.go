package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceTrigger_MatchesInteraction(t *testing.T) {
	any := ResourceTrigger{ResourceType: "Encounter"}
	assert.True(t, any.matchesInteraction("create"))

	narrowed := ResourceTrigger{ResourceType: "Encounter", Interactions: []string{"update"}}
	assert.True(t, narrowed.matchesInteraction("update"))
	assert.False(t, narrowed.matchesInteraction("create"))
}

func TestTopic_AllowsFilter(t *testing.T) {
	open := &Topic{}
	assert.True(t, open.allowsFilter("status"))

	closed := &Topic{CanFilterBy: []CanFilterBy{{FilterParameter: "status"}}}
	assert.True(t, closed.allowsFilter("status"))
	assert.False(t, closed.allowsFilter("category"))
}
