package subscription

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fhircore/fhircore/internal/fhirpath"
	"github.com/fhircore/fhircore/internal/registry"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/rs/zerolog"
)

// notifier is the Queue seam the matcher enqueues through; narrowed to an
// interface so matcher tests can substitute a fake instead of standing up
// a pool.
type notifier interface {
	Enqueue(ctx context.Context, n Notification) error
}

// Matcher implements storage.ResourceEventListener, running the §4.6
// five-step match against every registered Topic/Subscription on each
// event and enqueuing a Notification for every full match. It is
// registered on the store alongside internal/search's Indexer — both
// consume the same storage.ResourceEvent stream, neither depends on the
// other.
type Matcher struct {
	registry *Registry
	params   *registry.Registry
	fhirPath *fhirpath.Engine
	queue    notifier
	logger   zerolog.Logger
}

func NewMatcher(reg *Registry, params *registry.Registry, queue *Queue, logger zerolog.Logger) *Matcher {
	return &Matcher{
		registry: reg,
		params:   params,
		fhirPath: fhirpath.NewEngine(),
		queue:    queue,
		logger:   logger,
	}
}

// OnResourceEvent evaluates every candidate topic/subscription pair and
// enqueues notifications for full matches. Per §4.6/§7, failures are
// swallowed per-subscription (logged, subscription flagged "error") so one
// bad filter never stalls delivery for the rest of the event stream.
func (m *Matcher) OnResourceEvent(ctx context.Context, event storage.ResourceEvent) {
	for _, topic := range m.registry.Topics() {
		trigger, ok := m.matchingTrigger(topic, event)
		if !ok {
			continue
		}
		if !m.passesFHIRPathCriteria(trigger, event) {
			continue
		}
		if !m.passesQueryCriteria(trigger, event) {
			continue
		}

		for _, sub := range m.registry.subscriptionsFor(topic.URL) {
			if sub.Status != StatusActive && sub.Status != StatusRequested {
				continue
			}
			m.evaluateSubscription(ctx, sub, event)
		}
	}
}

// matchingTrigger returns the first resource trigger on topic matching the
// event's (resource_type, interaction), step 1 of §4.6.
func (m *Matcher) matchingTrigger(topic *Topic, event storage.ResourceEvent) (ResourceTrigger, bool) {
	for _, t := range topic.ResourceTrigger {
		if t.ResourceType == event.ResourceType && t.matchesInteraction(event.Interaction) {
			return t, true
		}
	}
	return ResourceTrigger{}, false
}

// passesFHIRPathCriteria is step 2: a boolean predicate over Current.
func (m *Matcher) passesFHIRPathCriteria(trigger ResourceTrigger, event storage.ResourceEvent) bool {
	if trigger.FHIRPathCriteria == "" {
		return true
	}
	if event.Current == nil {
		return false
	}
	ok, err := m.fhirPath.EvaluateBool(event.Current, trigger.FHIRPathCriteria)
	if err != nil {
		m.logger.Warn().Err(err).
			Str("resource_type", event.ResourceType).
			Str("criteria", trigger.FHIRPathCriteria).
			Msg("subscription: fhirpath_criteria evaluation failed, treating as no match")
		return false
	}
	return ok
}

// passesQueryCriteria is step 3: distinct current/previous query strings,
// translated to FHIRPath through the registry, combined per RequireBoth,
// with create/delete behavior overrides when one side has no resource to
// evaluate against.
func (m *Matcher) passesQueryCriteria(trigger ResourceTrigger, event storage.ResourceEvent) bool {
	qc := trigger.QueryCriteria
	if qc == nil {
		return true
	}

	currentResult, haveCurrent := m.evalCreateDeleteOverride(qc, event, true)
	if !haveCurrent {
		currentResult = m.evalQuery(qc.Current, event.ResourceType, event.Current)
	}
	previousResult, havePrevious := m.evalCreateDeleteOverride(qc, event, false)
	if !havePrevious {
		previousResult = m.evalQuery(qc.Previous, event.ResourceType, event.Previous)
	}

	switch {
	case qc.Current != "" && qc.Previous != "":
		if qc.RequireBoth {
			return currentResult && previousResult
		}
		return currentResult || previousResult
	case qc.Current != "":
		return currentResult
	case qc.Previous != "":
		return previousResult
	default:
		return true
	}
}

// evalCreateDeleteOverride applies behavior_for_create/behavior_for_delete
// when the side being evaluated has no resource to test against (no
// Previous on create, no Current on delete). Returns ok=false when no
// override applies and the caller should fall through to a normal
// evaluation.
func (m *Matcher) evalCreateDeleteOverride(qc *QueryCriteria, event storage.ResourceEvent, evaluatingCurrent bool) (result bool, ok bool) {
	if event.Interaction == "create" && !evaluatingCurrent {
		return behaviorResult(qc.BehaviorForCreate)
	}
	if event.Interaction == "delete" && evaluatingCurrent {
		return behaviorResult(qc.BehaviorForDelete)
	}
	return false, false
}

func behaviorResult(b QueryCriteriaBehavior) (bool, bool) {
	switch b {
	case BehaviorTestPasses:
		return true, true
	case BehaviorTestFails:
		return false, true
	case BehaviorNoTest, "":
		return true, true
	default:
		return true, true
	}
}

// evalQuery is the "simplified search-parameter-to-FHIRPath translator":
// query is a "key=value&key2=value2" string (distinct keys AND together,
// comma-separated values within a key OR together), each key resolved
// through the search-parameter registry to a FHIRPath expression evaluated
// against resource.
func (m *Matcher) evalQuery(query, resourceType string, resource map[string]interface{}) bool {
	if query == "" {
		return true
	}
	if resource == nil {
		return false
	}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key := kv[0]
		var value string
		if len(kv) == 2 {
			value = kv[1]
		}
		if !m.evalParam(resourceType, resource, key, value) {
			return false
		}
	}
	return true
}

func (m *Matcher) evalParam(resourceType string, resource map[string]interface{}, key, value string) bool {
	param, ok := m.params.Lookup(resourceType, key)
	if !ok {
		m.logger.Warn().Str("param", key).Str("resource_type", resourceType).
			Msg("subscription: query_criteria references unknown search parameter, treating as no match")
		return false
	}

	results, err := m.fhirPath.Evaluate(resource, param.Expression)
	if err != nil {
		m.logger.Warn().Err(err).Str("param", key).Msg("subscription: query_criteria expression evaluation failed")
		return false
	}

	for _, want := range strings.Split(value, ",") {
		for _, got := range results {
			if fhirValueMatches(got, want) {
				return true
			}
		}
	}
	return false
}

func fhirValueMatches(got interface{}, want string) bool {
	switch v := got.(type) {
	case string:
		return v == want
	case bool:
		b, err := strconv.ParseBool(want)
		return err == nil && v == b
	case float64:
		f, err := strconv.ParseFloat(want, 64)
		return err == nil && v == f
	case map[string]interface{}:
		if code, ok := v["code"].(string); ok && code == want {
			return true
		}
		if ref, ok := v["reference"].(string); ok && ref == want {
			return true
		}
		return false
	default:
		return fmt.Sprintf("%v", v) == want
	}
}

// evaluateSubscription is steps 4-5: per-filter comparator evaluation over
// Current, then enqueue on a full match. Errors flag the subscription
// "error" rather than propagating, per §7.
func (m *Matcher) evaluateSubscription(ctx context.Context, sub *Subscription, event storage.ResourceEvent) {
	matched, err := m.matchesFilters(sub, event)
	if err != nil {
		m.logger.Error().Err(err).Str("subscription_id", sub.ID).
			Msg("subscription: filter evaluation failed, flagging subscription as error")
		m.registry.SetStatus(sub.ID, StatusError)
		return
	}
	if !matched {
		return
	}

	if err := m.queue.Enqueue(ctx, Notification{
		SubscriptionID: sub.ID,
		ResourceType:   event.ResourceType,
		ResourceID:     event.ResourceID,
		VersionID:      event.VersionID,
		TxID:           event.TxID,
		Interaction:    event.Interaction,
		ChannelType:    sub.Channel.Type,
		Endpoint:       sub.Channel.Endpoint,
		Header:         sub.Channel.Header,
		Content:        sub.Channel.Content,
		Payload:        notificationPayload(sub, event),
	}); err != nil {
		m.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("subscription: enqueue failed")
	}
}

func (m *Matcher) matchesFilters(sub *Subscription, event storage.ResourceEvent) (bool, error) {
	for _, f := range sub.FilterBy {
		param, ok := m.params.Lookup(event.ResourceType, f.FilterParameter)
		if !ok {
			return false, fmt.Errorf("subscription: unknown filter parameter %q for %s", f.FilterParameter, event.ResourceType)
		}
		results, err := m.fhirPath.Evaluate(event.Current, param.Expression)
		if err != nil {
			return false, fmt.Errorf("subscription: filter %q expression: %w", f.FilterParameter, err)
		}
		if !compareFilter(results, f.Comparator, f.Value) {
			return false, nil
		}
	}
	return true, nil
}

// compareFilter applies one of the 4.4 string/numeric comparators (eq is
// the default) against every value the filter parameter's expression
// produced, matching if any does.
func compareFilter(results []interface{}, comparator, want string) bool {
	if comparator == "" {
		comparator = "eq"
	}
	for _, got := range results {
		if compareOne(got, comparator, want) {
			return true
		}
	}
	return false
}

func compareOne(got interface{}, comparator, want string) bool {
	gotStr := fmt.Sprintf("%v", got)
	if m, ok := got.(map[string]interface{}); ok {
		if code, ok := m["code"].(string); ok {
			gotStr = code
		} else if ref, ok := m["reference"].(string); ok {
			gotStr = ref
		}
	}

	gotNum, gotIsNum := got.(float64)
	wantNum, wantErr := strconv.ParseFloat(want, 64)
	numeric := gotIsNum && wantErr == nil

	switch comparator {
	case "eq":
		return gotStr == want
	case "ne":
		return gotStr != want
	case "gt":
		return numeric && gotNum > wantNum
	case "lt":
		return numeric && gotNum < wantNum
	case "ge":
		return numeric && gotNum >= wantNum
	case "le":
		return numeric && gotNum <= wantNum
	default:
		return gotStr == want
	}
}

func notificationPayload(sub *Subscription, event storage.ResourceEvent) map[string]interface{} {
	switch sub.Channel.Content {
	case "id-only":
		return map[string]interface{}{"resourceType": event.ResourceType, "id": event.ResourceID}
	case "full-resource":
		return event.Current
	default:
		return nil
	}
}
