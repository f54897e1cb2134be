// Package dag implements the DAG Executor: Kahn-layered, concurrency
// limited scheduling of an ExecutionPlan's steps, with reference resolution,
// condition evaluation, circuit-breaker skipping, and failure-propagated
// skip semantics.
package dag

import (
	"context"

	"github.com/shreyasdbz/axis/core"
)

// StepStatus is a step's terminal outcome within one DAG run.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// SkipReason explains why a step never reached the executor.
type SkipReason string

const (
	SkipDependencyFailed SkipReason = "DependencyFailed"
	SkipCircuitOpen      SkipReason = "CircuitOpen"
	SkipConditionFalse   SkipReason = "ConditionFalse"
	SkipCancelled        SkipReason = "Cancelled"
)

// StepResult is the tagged-variant outcome of one step: exactly one of
// Value (Completed), Error (Failed), or SkipReason (Skipped) is populated,
// matching spec §9's "dynamic result maps -> tagged variants" redesign.
type StepResult struct {
	StepID     string                 `json:"stepId"`
	Status     StepStatus             `json:"status"`
	Value      map[string]interface{} `json:"value,omitempty"`
	Error      string                 `json:"error,omitempty"`
	SkipReason SkipReason             `json:"skipReason,omitempty"`
	DurationMs int64                  `json:"durationMs"`
}

// AggregateStatus is the DAG run's overall outcome.
type AggregateStatus string

const (
	AggregateCompleted AggregateStatus = "completed"
	AggregatePartial   AggregateStatus = "partial"
	AggregateFailed    AggregateStatus = "failed"
)

// Result is the DAG Executor's output for one run.
type Result struct {
	Status      AggregateStatus `json:"status"`
	StepResults []StepResult    `json:"stepResults"`
	DurationMs  int64           `json:"durationMs"`
}

// StepExecutor invokes one step's gear action and returns its result value.
// A returned error becomes a failed step result; it is never thrown out of
// the DAG Executor.
type StepExecutor func(ctx context.Context, step core.PlanStep) (map[string]interface{}, error)

// CircuitPredicate reports whether gear's circuit is currently open. A true
// result causes the step (and its transitive dependents) to be skipped
// instead of executed.
type CircuitPredicate func(gear string) bool

// resultAccessor is the opaque view over results-so-far that condition
// evaluation and reference resolution read through, rather than probing an
// untyped map directly (spec §9's "reflection-heavy JSON navigation ->
// explicit path walker").
type resultAccessor struct {
	results map[string]StepResult
}

func (a resultAccessor) get(stepID string) (StepResult, bool) {
	r, ok := a.results[stepID]
	return r, ok
}
