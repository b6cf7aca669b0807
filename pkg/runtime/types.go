// Package runtime executes scenario scripts: the declarative action
// interpreter, the sandboxed runner for imperative scripts, variable
// resolution, result tracking and script summaries.
package runtime

import (
	"fmt"
	"io"
	"time"

	"github.com/ormasoftchile/regrun/pkg/schema"
)

// Status is the lifecycle state of one execution. Transitions only move
// forward: NOT_STARTED → RUNNING → {COMPLETED | FAILED | ABORTED}.
type Status string

const (
	NotStarted Status = "NOT_STARTED"
	Running    Status = "RUNNING"
	Completed  Status = "COMPLETED"
	Failed     Status = "FAILED"
	Aborted    Status = "ABORTED"
)

// statusRank orders statuses so transitions can never move backward.
var statusRank = map[Status]int{
	NotStarted: 0,
	Running:    1,
	Completed:  2,
	Failed:     2,
	Aborted:    2,
}

// StepStatus is the outcome of one attempted action.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepOutcome records one attempted declarative action.
type StepOutcome struct {
	Action schema.ActionKind `json:"action"           yaml:"action"`
	Status StepStatus        `json:"status"           yaml:"status"`
	Result any               `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string            `json:"error,omitempty"  yaml:"error,omitempty"`
}

// Outputs categorizes what an execution created on the node.
type Outputs struct {
	Wallets      []string `json:"wallets"      yaml:"wallets"`
	Transactions []string `json:"transactions" yaml:"transactions"`
	Blocks       []string `json:"blocks"       yaml:"blocks"`
}

// ExecutionResult accumulates per-step outcomes, timing and categorized
// outputs for one run. Steps is append-only and 1:1 with the declarative
// actions attempted.
type ExecutionResult struct {
	RunID      string        `json:"runId"                yaml:"run_id"`
	Script     string        `json:"script,omitempty"     yaml:"script,omitempty"`
	Status     Status        `json:"status"               yaml:"status"`
	StartedAt  time.Time     `json:"startedAt"            yaml:"started_at"`
	EndedAt    time.Time     `json:"endedAt,omitempty"    yaml:"ended_at,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty" yaml:"duration_ms,omitempty"`
	Steps      []StepOutcome `json:"steps"                yaml:"steps"`
	Outputs    Outputs       `json:"outputs"              yaml:"outputs"`
	Error      string        `json:"error,omitempty"      yaml:"error,omitempty"`
}

// advance moves the result to next if that is a forward transition and
// reports whether the move happened.
func (r *ExecutionResult) advance(next Status) bool {
	if statusRank[next] <= statusRank[r.Status] && r.Status != NotStarted {
		return false
	}
	r.Status = next
	return true
}

// finish stamps the end time and duration.
func (r *ExecutionResult) finish() {
	r.EndedAt = time.Now()
	r.DurationMs = r.EndedAt.Sub(r.StartedAt).Milliseconds()
}

// Options controls one execution.
type Options struct {
	// DryRun summarizes the script without any backend call.
	DryRun bool
	// Verbose emits a log event for every step.
	Verbose bool
	// Interactive requires confirmation before each step (declarative) or
	// before the whole program (imperative).
	Interactive bool
	// Params seed the variable table alongside the script's declared
	// variables; they take precedence over declarations.
	Params map[string]any
}

// EventSink receives execution events. Events never affect engine control
// flow — they exist for live feedback only. Implementations must be cheap;
// the engine calls them synchronously.
type EventSink interface {
	Start(scriptName string)
	Progress(step, total int, message string)
	Log(message string)
	Warning(message string)
	Complete(result *ExecutionResult)
	Error(err error, result *ExecutionResult)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Start(string)                  {}
func (NopSink) Progress(int, int, string)     {}
func (NopSink) Log(string)                    {}
func (NopSink) Warning(string)                {}
func (NopSink) Complete(*ExecutionResult)     {}
func (NopSink) Error(error, *ExecutionResult) {}

// WriterSink prints events to W, one line each.
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Start(name string) {
	fmt.Fprintf(s.W, "▶ Executing: %s\n", name)
}

func (s WriterSink) Progress(step, total int, message string) {
	fmt.Fprintf(s.W, "  [%d/%d] %s\n", step, total, message)
}

func (s WriterSink) Log(message string) {
	fmt.Fprintf(s.W, "  %s\n", message)
}

func (s WriterSink) Warning(message string) {
	fmt.Fprintf(s.W, "  ⚠ %s\n", message)
}

func (s WriterSink) Complete(result *ExecutionResult) {
	fmt.Fprintf(s.W, "✓ Completed in %dms (%d steps)\n", result.DurationMs, len(result.Steps))
}

func (s WriterSink) Error(err error, result *ExecutionResult) {
	fmt.Fprintf(s.W, "✗ %s: %v\n", result.Status, err)
}

// Confirmer supplies the interactive confirmation policy. The engine only
// defines the hook — the policy (prompting a human, auto-approving in
// tests) is an external collaborator.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// AutoConfirmer answers every confirmation with a fixed response.
type AutoConfirmer struct {
	Answer bool
}

func (c AutoConfirmer) Confirm(string) (bool, error) {
	return c.Answer, nil
}
