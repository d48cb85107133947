package automation

import (
	"bytes"
	"context"
	"fmt"

	"github.com/fhircore/fhircore/internal/fhirpath"
)

// ErrAborted is returned by Run when a step's action is ActionAbort.
var ErrAborted = fmt.Errorf("automation: aborted by step")

// Interpreter runs an Automation's compiled step list against a triggering
// resource. There is no embeddable scripting VM in play here: each step is
// a FHIRPath condition guarding one of a small fixed set of actions, which
// keeps an automation script auditable and bounded without needing a
// sandboxed general-purpose runtime.
type Interpreter struct {
	engine *fhirpath.Engine
}

func NewInterpreter(engine *fhirpath.Engine) *Interpreter {
	return &Interpreter{engine: engine}
}

// Run executes steps against resource, honoring ctx's deadline (the
// caller is expected to have wrapped ctx with automation.Timeout()).
// Output captures one line per executed step, mirroring stdout/stderr
// capture for the execution record. Run stops at the first step whose
// action is ActionAbort, returning ErrAborted, or at the first condition
// evaluation error.
func (in *Interpreter) Run(ctx context.Context, steps []Step, resource map[string]interface{}) (string, error) {
	var out bytes.Buffer

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		default:
		}

		pass := true
		if step.Condition != "" {
			var err error
			pass, err = in.engine.EvaluateBool(resource, step.Condition)
			if err != nil {
				fmt.Fprintf(&out, "step %d: condition error: %s\n", i, err)
				return out.String(), fmt.Errorf("automation: step %d condition: %w", i, err)
			}
		}
		if !pass {
			fmt.Fprintf(&out, "step %d: condition false, skipped\n", i)
			continue
		}

		switch step.Action {
		case ActionLog:
			fmt.Fprintf(&out, "step %d: %s\n", i, step.Message)
		case ActionFlagSubscriber:
			fmt.Fprintf(&out, "step %d: flag-subscriber %s\n", i, step.Message)
		case ActionAbort:
			fmt.Fprintf(&out, "step %d: abort: %s\n", i, step.Message)
			return out.String(), ErrAborted
		default:
			fmt.Fprintf(&out, "step %d: unknown action %q, skipped\n", i, step.Action)
		}
	}

	return out.String(), nil
}
