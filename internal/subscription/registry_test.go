package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookupTopic(t *testing.T) {
	r := NewRegistry()
	topic := &Topic{URL: "http://example.org/topic/encounter-start"}
	r.RegisterTopic(topic)

	got, ok := r.Topic(topic.URL)
	require.True(t, ok)
	assert.Same(t, topic, got)
	assert.Len(t, r.Topics(), 1)
}

func TestRegistry_SubscribeRejectsUnknownTopic(t *testing.T) {
	r := NewRegistry()
	err := r.Subscribe(&Subscription{ID: "sub-1", TopicURL: "http://example.org/no-such-topic"})
	assert.Error(t, err)
}

func TestRegistry_SubscribeRejectsDisallowedFilter(t *testing.T) {
	r := NewRegistry()
	r.RegisterTopic(&Topic{
		URL:         "http://example.org/topic/lab-result",
		CanFilterBy: []CanFilterBy{{FilterParameter: "code"}},
	})
	err := r.Subscribe(&Subscription{
		ID:       "sub-1",
		TopicURL: "http://example.org/topic/lab-result",
		FilterBy: []Filter{{FilterParameter: "patient", Value: "123"}},
	})
	assert.Error(t, err)
}

func TestRegistry_SubscribeDefaultsStatusAndIndexesByTopic(t *testing.T) {
	r := NewRegistry()
	r.RegisterTopic(&Topic{URL: "http://example.org/topic/admission"})
	sub := &Subscription{ID: "sub-1", TopicURL: "http://example.org/topic/admission"}
	require.NoError(t, r.Subscribe(sub))

	assert.Equal(t, StatusRequested, sub.Status)
	got, ok := r.Subscription("sub-1")
	require.True(t, ok)
	assert.Equal(t, StatusRequested, got.Status)
	assert.Len(t, r.subscriptionsFor("http://example.org/topic/admission"), 1)
}

func TestRegistry_SetStatusUpdatesBothIndexes(t *testing.T) {
	r := NewRegistry()
	r.RegisterTopic(&Topic{URL: "http://example.org/topic/admission"})
	require.NoError(t, r.Subscribe(&Subscription{ID: "sub-1", TopicURL: "http://example.org/topic/admission"}))

	r.SetStatus("sub-1", StatusError)

	got, _ := r.Subscription("sub-1")
	assert.Equal(t, StatusError, got.Status)
	byTopic := r.subscriptionsFor("http://example.org/topic/admission")
	require.Len(t, byTopic, 1)
	assert.Equal(t, StatusError, byTopic[0].Status)
}
