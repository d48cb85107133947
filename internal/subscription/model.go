// Package subscription evaluates storage change events against
// SubscriptionTopic triggers and per-Subscription filters, enqueuing
// notifications onto a durable, SKIP-LOCKED-claimed delivery queue. It
// registers as a storage.ResourceEventListener alongside internal/search's
// Indexer, generalizing the teacher's SubscriptionTopicEngine/
// NotificationManager pair from an in-memory, email/SMS-only model to a
// Postgres-backed FHIR channel model (rest-hook, email, message, websocket).
package subscription

import "time"

// ResourceTrigger is one SubscriptionTopic.resourceTrigger entry: the
// (resource_type, interaction) pair a topic fires on, plus the boolean and
// query predicates that narrow it further.
type ResourceTrigger struct {
	ResourceType     string
	Interactions     []string // subset of create, update, delete
	FHIRPathCriteria string   // boolean FHIRPath evaluated over Current
	QueryCriteria    *QueryCriteria
}

func (t ResourceTrigger) matchesInteraction(interaction string) bool {
	if len(t.Interactions) == 0 {
		return true
	}
	for _, i := range t.Interactions {
		if i == interaction {
			return true
		}
	}
	return false
}

// QueryCriteriaBehavior governs how a query criterion applies when one side
// of the comparison (current or previous) does not exist, per §4.6.
type QueryCriteriaBehavior string

const (
	BehaviorTestPasses QueryCriteriaBehavior = "test-passes"
	BehaviorTestFails  QueryCriteriaBehavior = "test-fails"
	BehaviorNoTest     QueryCriteriaBehavior = "no-test"
)

// QueryCriteria narrows a ResourceTrigger by comparing simplified search
// query strings against the current and/or previous resource state.
// RequireBoth selects AND (both must pass) vs OR (either passes) when both
// Current and Previous are set.
type QueryCriteria struct {
	Current           string
	Previous          string
	RequireBoth       bool
	BehaviorForCreate QueryCriteriaBehavior
	BehaviorForDelete QueryCriteriaBehavior
}

// CanFilterBy declares one Subscription.filterBy parameter a topic allows.
type CanFilterBy struct {
	FilterParameter string
	Resource        string // "" applies to every resource trigger on the topic
}

// Topic is a SubscriptionTopic: a set of triggers plus the filter
// parameters subscriptions bound to it may use.
type Topic struct {
	URL             string
	Status          string
	ResourceTrigger []ResourceTrigger
	CanFilterBy     []CanFilterBy
}

func (t *Topic) allowsFilter(param string) bool {
	if len(t.CanFilterBy) == 0 {
		return true
	}
	for _, f := range t.CanFilterBy {
		if f.FilterParameter == param {
			return true
		}
	}
	return false
}

// Filter is one Subscription.filterBy entry: filter_parameter compared to
// value using comparator (defaults to "eq").
type Filter struct {
	FilterParameter string
	Comparator      string
	Value           string
}

// Channel describes how matched notifications for a Subscription are
// delivered.
type Channel struct {
	Type     string // rest-hook, email, message, websocket
	Endpoint string
	Header   []string
	Content  string // empty, id-only, full-resource
}

// Subscription status values, per §3.2.
const (
	StatusRequested = "requested"
	StatusActive    = "active"
	StatusError     = "error"
	StatusOff       = "off"
)

// Subscription is an active binding of a Topic to a Channel, narrowed by
// FilterBy.
type Subscription struct {
	ID        string
	TopicURL  string
	FilterBy  []Filter
	Channel   Channel
	Status    string
	CreatedAt time.Time

	EventCount int
}
