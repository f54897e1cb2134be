package dag

import (
	"context"
	"sync"
	"time"

	"github.com/shreyasdbz/axis/core"
)

const defaultMaxConcurrency = 4

// Executor runs an ExecutionPlan's steps to completion per spec §4.4.
type Executor struct {
	maxConcurrency int
	logger         core.Logger
	circuit        CircuitPredicate
	telemetry      core.Telemetry
}

// Option configures an Executor.
type Option func(*Executor)

func WithMaxConcurrency(n int) Option   { return func(e *Executor) { e.maxConcurrency = n } }
func WithLogger(l core.Logger) Option   { return func(e *Executor) { e.logger = l } }
func WithTelemetry(t core.Telemetry) Option { return func(e *Executor) { e.telemetry = t } }
func WithCircuitPredicate(p CircuitPredicate) Option {
	return func(e *Executor) { e.circuit = p }
}

// New builds an Executor.
func New(opts ...Option) *Executor {
	e := &Executor{maxConcurrency: defaultMaxConcurrency, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes steps against exec, honoring ctx cancellation: any step not
// yet entered when ctx is cancelled is recorded as skipped with reason
// Cancelled.
func (e *Executor) Run(ctx context.Context, steps []core.PlanStep, exec StepExecutor) (*Result, error) {
	start := time.Now()

	if err := validate(steps); err != nil {
		return nil, err
	}
	layers, err := layer(steps)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]core.PlanStep, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	dependents := reverseDependents(steps)

	results := make(map[string]StepResult, len(steps))
	var mu sync.Mutex

	markSkipped := func(id string, reason SkipReason) {
		mu.Lock()
		defer mu.Unlock()
		if _, done := results[id]; done {
			return
		}
		results[id] = StepResult{StepID: id, Status: StepSkipped, SkipReason: reason}
	}

	// propagate marks every transitive dependent of id as skipped with
	// reason DependencyFailed, via BFS over the reverse-dependency map.
	var propagate func(id string)
	propagate = func(id string) {
		queue := append([]string{}, dependents[id]...)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			mu.Lock()
			_, done := results[cur]
			mu.Unlock()
			if done {
				continue
			}
			markSkipped(cur, SkipDependencyFailed)
			queue = append(queue, dependents[cur]...)
		}
	}

	for _, layerIDs := range layers {
		if ctx.Err() != nil {
			for _, id := range layerIDs {
				markSkipped(id, SkipCancelled)
			}
			continue
		}

		// Chunk the layer so concurrency never exceeds maxConcurrency.
		for start := 0; start < len(layerIDs); start += e.maxConcurrency {
			end := start + e.maxConcurrency
			if end > len(layerIDs) {
				end = len(layerIDs)
			}
			chunk := layerIDs[start:end]
			if ctx.Err() != nil {
				for _, id := range chunk {
					markSkipped(id, SkipCancelled)
				}
				continue
			}

			var wg sync.WaitGroup
			for _, id := range chunk {
				mu.Lock()
				_, already := results[id]
				mu.Unlock()
				if already {
					continue
				}
				step := byID[id]
				wg.Add(1)
				go func(step core.PlanStep) {
					defer wg.Done()
					e.runOne(ctx, step, exec, &mu, results, propagate, markSkipped)
				}(step)
			}
			wg.Wait()
		}
	}

	ordered := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		ordered = append(ordered, results[s.ID])
	}

	return &Result{
		Status:      aggregate(ordered),
		StepResults: ordered,
		DurationMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (e *Executor) runOne(
	ctx context.Context,
	step core.PlanStep,
	exec StepExecutor,
	mu *sync.Mutex,
	results map[string]StepResult,
	propagate func(string),
	markSkipped func(string, SkipReason),
) {
	if e.circuit != nil && e.circuit(step.Gear) {
		markSkipped(step.ID, SkipCircuitOpen)
		propagate(step.ID)
		return
	}

	mu.Lock()
	acc := resultAccessor{results: copyResults(results)}
	mu.Unlock()

	if !evaluateCondition(step.Condition, acc) {
		markSkipped(step.ID, SkipConditionFalse)
		return
	}

	resolvedParams := resolveReferences(step.Parameters, acc, e.logger)
	resolvedStep := step
	resolvedStep.Parameters = resolvedParams

	stepCtx := ctx
	var span core.Span
	if e.telemetry != nil {
		stepCtx, span = e.telemetry.StartSpan(ctx, "dag.step."+step.Gear+"."+step.Action)
		span.SetAttribute("axis.step.id", step.ID)
		span.SetAttribute("axis.step.gear", step.Gear)
		span.SetAttribute("axis.step.action", step.Action)
	}

	stepStart := time.Now()
	value, err := exec(stepCtx, resolvedStep)
	duration := time.Since(stepStart).Milliseconds()

	if span != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}

	mu.Lock()
	if _, done := results[step.ID]; done {
		mu.Unlock()
		return
	}
	if err != nil {
		results[step.ID] = StepResult{StepID: step.ID, Status: StepFailed, Error: err.Error(), DurationMs: duration}
		mu.Unlock()
		propagate(step.ID)
		return
	}
	results[step.ID] = StepResult{StepID: step.ID, Status: StepCompleted, Value: value, DurationMs: duration}
	mu.Unlock()
}

func copyResults(in map[string]StepResult) map[string]StepResult {
	out := make(map[string]StepResult, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// aggregate implements the redesigned (non-dead-branch) aggregation rule
// from spec §9: partial when some steps completed and some failed/skipped
// due to failure; failed only when nothing completed; completed otherwise.
func aggregate(results []StepResult) AggregateStatus {
	hasCompleted := false
	hasFailure := false
	for _, r := range results {
		switch r.Status {
		case StepCompleted:
			hasCompleted = true
		case StepFailed:
			hasFailure = true
		case StepSkipped:
			if r.SkipReason == SkipDependencyFailed || r.SkipReason == SkipCircuitOpen {
				hasFailure = true
			}
		}
	}
	switch {
	case hasFailure && hasCompleted:
		return AggregatePartial
	case hasFailure:
		return AggregateFailed
	default:
		return AggregateCompleted
	}
}
