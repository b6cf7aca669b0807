package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ormasoftchile/regrun/pkg/backend"
	"github.com/ormasoftchile/regrun/pkg/schema"
)

// ErrAborted marks executions ended by an interactive decline or context
// cancellation, distinct from action failures.
var ErrAborted = errors.New("script execution aborted")

// Engine executes one script against an Action Backend. An Engine owns its
// variable table and execution result exclusively — create a fresh Engine
// per run and do not share one across goroutines.
type Engine struct {
	Script    *schema.Script
	Backend   backend.Backend
	Options   Options
	Events    EventSink
	Confirmer Confirmer

	// SandboxTimeout bounds imperative script execution.
	// DefaultSandboxTimeout applies when zero.
	SandboxTimeout time.Duration

	vars   map[string]any
	result *ExecutionResult
	// psbts maps constructed txids to their latest PSBT so later sign and
	// broadcast actions can reference transactions by txid alone.
	psbts map[string]string
}

// New creates an engine with a no-op event sink.
func New(script *schema.Script, b backend.Backend, opts Options) *Engine {
	return &Engine{
		Script:  script,
		Backend: b,
		Options: opts,
		Events:  NopSink{},
	}
}

// Execute runs the script and returns the execution result. On failure the
// result is returned alongside the error — partial progress (appended steps
// and populated outputs) is preserved, and an error event has already been
// emitted. The caller-supplied script and options are never mutated.
func (e *Engine) Execute(ctx context.Context) (*ExecutionResult, error) {
	if e.Events == nil {
		e.Events = NopSink{}
	}

	res := &ExecutionResult{
		RunID:     uuid.NewString(),
		Script:    e.Script.Name,
		Status:    NotStarted,
		StartedAt: time.Now(),
		Outputs:   Outputs{Wallets: []string{}, Transactions: []string{}, Blocks: []string{}},
	}
	e.result = res
	e.psbts = make(map[string]string)

	res.advance(Running)
	e.Events.Start(e.Script.Name)

	// Dry run: summarize only, zero backend calls.
	if e.Options.DryRun {
		e.Events.Log(Summarize(e.Script))
		res.advance(Completed)
		res.finish()
		e.Events.Complete(res)
		return res, nil
	}

	// Seed the variable table: declared variables first, then invocation
	// parameters on top.
	e.vars = make(map[string]any, len(e.Script.Variables)+len(e.Options.Params))
	for k, v := range e.Script.Variables {
		e.vars[k] = v
	}
	for k, v := range e.Options.Params {
		e.vars[k] = v
	}

	var err error
	if e.Script.Kind == schema.KindImperative {
		err = e.runSandboxed(ctx)
	} else {
		err = e.runActions(ctx)
	}

	if err != nil {
		if errors.Is(err, ErrAborted) {
			res.advance(Aborted)
		} else {
			res.advance(Failed)
		}
		res.Error = err.Error()
		res.finish()
		e.Events.Error(err, res)
		return res, err
	}

	res.advance(Completed)
	res.finish()
	e.Events.Complete(res)
	return res, nil
}

// runActions interprets the declarative action sequence in strict script
// order: an action never starts before the previous one has fully
// completed, and the first failure halts the remaining sequence.
func (e *Engine) runActions(ctx context.Context) error {
	total := len(e.Script.Actions)
	for i, a := range e.Script.Actions {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrAborted, ctx.Err())
		}

		message := a.Description
		if message == "" {
			message = string(a.Type)
		}
		e.Events.Progress(i+1, total, message)

		if e.Options.Interactive && e.Confirmer != nil {
			ok, err := e.Confirmer.Confirm(fmt.Sprintf("Run step %d/%d (%s)?", i+1, total, message))
			if err != nil {
				return fmt.Errorf("confirm step %d: %w", i+1, err)
			}
			if !ok {
				e.result.Steps = append(e.result.Steps, StepOutcome{Action: a.Type, Status: StepSkipped})
				e.Events.Warning(fmt.Sprintf("step %d/%d (%s) skipped", i+1, total, a.Type))
				continue
			}
		}

		// Resolution uses the table's state at this point in the sequence.
		resolved, unresolved := Resolve(a.Params, e.vars)
		if len(unresolved) > 0 {
			err := fmt.Errorf("action %d (%s): unresolved variable(s): %s",
				i+1, a.Type, strings.Join(dedupe(unresolved), ", "))
			e.result.Steps = append(e.result.Steps, StepOutcome{
				Action: a.Type,
				Status: StepFailed,
				Error:  err.Error(),
			})
			return err
		}
		params := resolved.(map[string]any)

		handler, ok := actionHandlers[a.Type]
		if !ok {
			err := fmt.Errorf("action %d: unknown action type %q", i+1, a.Type)
			e.result.Steps = append(e.result.Steps, StepOutcome{
				Action: a.Type,
				Status: StepFailed,
				Error:  err.Error(),
			})
			return err
		}

		record, bind, err := handler(ctx, e, params)
		if err != nil {
			wrapped := fmt.Errorf("action %d (%s): %w", i+1, a.Type, err)
			e.result.Steps = append(e.result.Steps, StepOutcome{
				Action: a.Type,
				Status: StepFailed,
				Error:  wrapped.Error(),
			})
			return wrapped
		}

		if name, ok := params["variableName"].(string); ok && name != "" {
			e.vars[name] = bind
		}

		e.result.Steps = append(e.result.Steps, StepOutcome{
			Action: a.Type,
			Status: StepSuccess,
			Result: record,
		})
		if e.Options.Verbose {
			e.Events.Log(fmt.Sprintf("✓ %s", message))
		}
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
