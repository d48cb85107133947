package subscription

import (
	"context"
	"testing"

	"github.com/fhircore/fhircore/internal/fhirpath"
	"github.com/fhircore/fhircore/internal/registry"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingQueue is a notifier fake that records every enqueued
// notification instead of writing to Postgres.
type recordingQueue struct {
	enqueued []Notification
}

func (q *recordingQueue) Enqueue(ctx context.Context, n Notification) error {
	q.enqueued = append(q.enqueued, n)
	return nil
}

func newTestEngine() *fhirpath.Engine { return fhirpath.NewEngine() }

// testParams builds a *registry.Registry with the given search parameters
// registered against the "Resource" base, which lets Reload skip calling
// through to a real storage.Store (ensureSchemaForBases never invokes
// EnsureSchema for the Resource/DomainResource bases).
func testParams(t *testing.T, defs ...*registry.SearchParameter) *registry.Registry {
	t.Helper()
	reg := registry.New(nil)
	require.NoError(t, reg.Reload(context.Background(), defs))
	return reg
}

func statusParam() *registry.SearchParameter {
	return &registry.SearchParameter{
		Code: "status", Base: []string{"Resource"}, Type: registry.TypeToken,
		Expression: "status",
	}
}

func TestMatcher_FHIRPathCriteriaGatesMatch(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterTopic(&Topic{
		URL: "http://example.org/topic/encounter-start",
		ResourceTrigger: []ResourceTrigger{{
			ResourceType:     "Encounter",
			Interactions:     []string{"update"},
			FHIRPathCriteria: "status = 'in-progress'",
		}},
	})
	require.NoError(t, reg.Subscribe(&Subscription{
		ID: "sub-1", TopicURL: "http://example.org/topic/encounter-start",
		Status: StatusActive, Channel: Channel{Type: "rest-hook", Endpoint: "http://sink.example/hook"},
	}))

	params := testParams(t, statusParam())
	queue := &recordingQueue{}
	m := &Matcher{registry: reg, params: params, fhirPath: newTestEngine(), queue: nil, logger: zerolog.Nop()}
	m.queue = queue

	m.OnResourceEvent(context.Background(), storage.ResourceEvent{
		ResourceType: "Encounter", ResourceID: "1", Interaction: "update",
		Current: map[string]interface{}{"status": "in-progress"},
	})
	assert.Len(t, queue.enqueued, 1)

	queue.enqueued = nil
	m.OnResourceEvent(context.Background(), storage.ResourceEvent{
		ResourceType: "Encounter", ResourceID: "1", Interaction: "update",
		Current: map[string]interface{}{"status": "finished"},
	})
	assert.Empty(t, queue.enqueued)
}

func TestMatcher_InteractionMustMatchTrigger(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterTopic(&Topic{
		URL:             "http://example.org/topic/creates-only",
		ResourceTrigger: []ResourceTrigger{{ResourceType: "Patient", Interactions: []string{"create"}}},
	})
	require.NoError(t, reg.Subscribe(&Subscription{
		ID: "sub-1", TopicURL: "http://example.org/topic/creates-only", Status: StatusActive,
	}))

	params := testParams(t)
	queue := &recordingQueue{}
	m := &Matcher{registry: reg, params: params, fhirPath: newTestEngine(), logger: zerolog.Nop()}
	m.queue = queue

	m.OnResourceEvent(context.Background(), storage.ResourceEvent{
		ResourceType: "Patient", ResourceID: "1", Interaction: "delete",
	})
	assert.Empty(t, queue.enqueued)
}

func TestMatcher_SubscriptionFilterNarrowsMatch(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterTopic(&Topic{
		URL:             "http://example.org/topic/lab-result",
		ResourceTrigger: []ResourceTrigger{{ResourceType: "Observation", Interactions: []string{"create"}}},
		CanFilterBy:     []CanFilterBy{{FilterParameter: "status"}},
	})
	require.NoError(t, reg.Subscribe(&Subscription{
		ID: "sub-1", TopicURL: "http://example.org/topic/lab-result", Status: StatusActive,
		FilterBy: []Filter{{FilterParameter: "status", Value: "final"}},
	}))

	params := testParams(t, statusParam())
	queue := &recordingQueue{}
	m := &Matcher{registry: reg, params: params, fhirPath: newTestEngine(), logger: zerolog.Nop()}
	m.queue = queue

	m.OnResourceEvent(context.Background(), storage.ResourceEvent{
		ResourceType: "Observation", ResourceID: "1", Interaction: "create",
		Current: map[string]interface{}{"status": "preliminary"},
	})
	assert.Empty(t, queue.enqueued)

	m.OnResourceEvent(context.Background(), storage.ResourceEvent{
		ResourceType: "Observation", ResourceID: "2", Interaction: "create",
		Current: map[string]interface{}{"status": "final"},
	})
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, "2", queue.enqueued[0].ResourceID)
}

func TestBehaviorResult(t *testing.T) {
	result, ok := behaviorResult(BehaviorTestPasses)
	assert.True(t, ok)
	assert.True(t, result)

	result, ok = behaviorResult(BehaviorTestFails)
	assert.True(t, ok)
	assert.False(t, result)

	result, ok = behaviorResult(BehaviorNoTest)
	assert.True(t, ok)
	assert.True(t, result)
}

func TestCompareOne_Comparators(t *testing.T) {
	assert.True(t, compareOne("final", "eq", "final"))
	assert.False(t, compareOne("final", "eq", "preliminary"))
	assert.True(t, compareOne("final", "ne", "preliminary"))
	assert.True(t, compareOne(5.0, "gt", "3"))
	assert.True(t, compareOne(5.0, "le", "5"))
	assert.False(t, compareOne(5.0, "lt", "5"))
}
