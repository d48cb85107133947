package automation

import (
	"context"
	"fmt"

	"github.com/fhircore/fhircore/internal/fhirpath"
	"github.com/fhircore/fhircore/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runtime dispatches automations on resource events, cron schedules, and
// manual invocation, implementing storage.ResourceEventListener so it can
// be registered on the same storage.Store as internal/search.Indexer and
// internal/subscription.Matcher.
type Runtime struct {
	registry    *Registry
	interpreter *Interpreter
	executions  *Executions
	cron        *cron.Cron
	logger      zerolog.Logger

	scheduled map[string]cron.EntryID
}

func NewRuntime(registry *Registry, engine *fhirpath.Engine, executions *Executions, logger zerolog.Logger) *Runtime {
	return &Runtime{
		registry:    registry,
		interpreter: NewInterpreter(engine),
		executions:  executions,
		cron:        cron.New(),
		logger:      logger,
		scheduled:   make(map[string]cron.EntryID),
	}
}

// OnResourceEvent implements storage.ResourceEventListener, firing any
// active automation whose resource_event trigger matches event.
func (r *Runtime) OnResourceEvent(ctx context.Context, event storage.ResourceEvent) {
	for _, a := range r.registry.Active() {
		for _, trig := range a.Triggers {
			if !trig.MatchesEvent(event.ResourceType, event.Interaction) {
				continue
			}
			if trig.FHIRPathFilter != "" {
				pass, err := r.interpreter.engine.EvaluateBool(event.Current, trig.FHIRPathFilter)
				if err != nil || !pass {
					continue
				}
			}
			r.execute(ctx, a, TriggerResourceEvent, event.ResourceType, event.ResourceID, event.Current)
			break
		}
	}
}

// StartCron registers a cron.FuncJob for every active automation with a
// cron trigger and starts the scheduler. Call after LoadFromStore.
func (r *Runtime) StartCron() error {
	for _, a := range r.registry.Active() {
		for _, trig := range a.Triggers {
			if trig.Kind != TriggerCron || trig.Cron == "" {
				continue
			}
			automation := a
			id, err := r.cron.AddFunc(trig.Cron, func() {
				r.execute(context.Background(), automation, TriggerCron, "", "", nil)
			})
			if err != nil {
				return fmt.Errorf("automation: schedule %q: %w", a.Name, err)
			}
			r.scheduled[a.ID] = id
		}
	}
	r.cron.Start()
	return nil
}

// StopCron stops the scheduler, waiting for in-flight jobs to finish.
func (r *Runtime) StopCron(ctx context.Context) {
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// RunManual executes automationID immediately, for manual triggers and for
// operator-initiated test runs.
func (r *Runtime) RunManual(ctx context.Context, automationID string) error {
	for _, a := range r.registry.Active() {
		if a.ID == automationID {
			r.execute(ctx, a, TriggerManual, "", "", nil)
			return nil
		}
	}
	return fmt.Errorf("automation: %q is not active", automationID)
}

func (r *Runtime) execute(ctx context.Context, a Automation, triggerKind, resourceType, resourceID string, resource map[string]interface{}) {
	id, err := r.executions.Start(ctx, a.ID, triggerKind, resourceType, resourceID)
	if err != nil {
		r.logger.Error().Err(err).Str("automation_id", a.ID).Msg("automation: record execution start")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, a.Timeout())
	defer cancel()

	log, runErr := r.interpreter.Run(runCtx, a.Steps, resource)

	status := ExecutionSucceeded
	cause := ""
	switch {
	case runErr == context.DeadlineExceeded:
		status = ExecutionTimedOut
		cause = runErr.Error()
	case runErr != nil:
		status = ExecutionFailed
		cause = runErr.Error()
	}

	if err := r.executions.Finish(ctx, id, status, log, cause); err != nil {
		r.logger.Error().Err(err).Str("automation_id", a.ID).Int64("execution_id", id).Msg("automation: record execution finish")
	}
}
