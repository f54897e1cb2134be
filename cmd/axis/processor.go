package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shreyasdbz/axis/approval"
	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/dag"
	"github.com/shreyasdbz/axis/idempotency"
	"github.com/shreyasdbz/axis/jobqueue"
	"github.com/shreyasdbz/axis/router"
	"github.com/shreyasdbz/axis/validator"
)

// scoutComponentID is the router component a planner registers itself
// under. Planning (turning a user message into an ExecutionPlan) is an
// external collaborator; this package only knows how to ask for a plan and
// attach whatever comes back.
const scoutComponentID = "scout"

// newProcessor builds the workerpool.Processor that drives a claimed job
// (freshly moved into planning by Claim) through plan acquisition,
// validation, approval, and execution. The worker pool itself knows none of
// this — it only calls Processor and checks the returned error.
func newProcessor(
	queue *jobqueue.Queue,
	idemLog *idempotency.Log,
	policy *validator.RuleBasedPolicy,
	coordinator *approval.Coordinator,
	executor *dag.Executor,
	rtr *router.Router,
	logger core.Logger,
) func(ctx context.Context, job *core.Job) error {
	return func(ctx context.Context, job *core.Job) error {
		if job.Plan == nil {
			plan, err := requestPlan(ctx, rtr, job)
			if err != nil {
				_, ferr := queue.Transition(ctx, job.ID, core.StatusPlanning, core.StatusFailed, &jobqueue.Patch{
					Error: &core.JobError{Kind: core.KindConfiguration, Message: err.Error()},
				})
				if ferr != nil {
					return ferr
				}
				return err
			}
			job.Plan = plan
		}

		validation := policy.Validate(job.Plan)
		job, err := queue.Transition(ctx, job.ID, core.StatusPlanning, core.StatusValidating, &jobqueue.Patch{
			Plan:       job.Plan,
			Validation: validation,
		})
		if err != nil {
			return err
		}

		switch validation.Verdict {
		case core.VerdictRejected:
			_, err := queue.Transition(ctx, job.ID, core.StatusValidating, core.StatusRejected, &jobqueue.Patch{
				Error: &core.JobError{Kind: core.KindSandboxDenied, Message: "plan rejected by validator"},
			})
			return err
		case core.VerdictRevise:
			_, err := queue.Transition(ctx, job.ID, core.StatusValidating, core.StatusPlanning, &jobqueue.Patch{ReplanDelta: 1})
			return err
		case core.VerdictNeedsApproval:
			_, _, err := coordinator.RequestApproval(ctx, job, job.Plan)
			return err
		}

		job, err = queue.Transition(ctx, job.ID, core.StatusValidating, core.StatusExecuting, nil)
		if err != nil {
			return err
		}

		return runPlan(ctx, queue, idemLog, executor, rtr, job, logger)
	}
}

// runPlan executes job's plan via the DAG Executor, guarding each step with
// the idempotency log so a crash mid-plan resumes without re-running
// already-completed steps. Each step invocation is a router Dispatch to the
// gear registered under step.Gear.
func runPlan(ctx context.Context, queue *jobqueue.Queue, idemLog *idempotency.Log, executor *dag.Executor, rtr *router.Router, job *core.Job, logger core.Logger) error {
	exec := func(ctx context.Context, step core.PlanStep) (map[string]interface{}, error) {
		decision, err := idemLog.Check(ctx, job.ID, step.ID)
		if err != nil {
			return nil, err
		}
		if decision.Outcome == idempotency.OutcomeCached {
			return decision.Result, nil
		}

		resp, err := rtr.Dispatch(ctx, router.Envelope{
			From:    "dag-executor",
			To:      step.Gear,
			Type:    step.Action,
			JobID:   job.ID,
			Payload: step.Parameters,
		})
		if err != nil {
			_ = idemLog.RecordFailure(ctx, decision.ExecutionID)
			return nil, err
		}
		if resp.Type == "error" {
			_ = idemLog.RecordFailure(ctx, decision.ExecutionID)
			return nil, fmt.Errorf("gear %s/%s failed: %v", step.Gear, step.Action, resp.Payload)
		}

		if err := idemLog.RecordCompletion(ctx, decision.ExecutionID, resp.Payload); err != nil {
			logger.Error("record completion failed", map[string]interface{}{"jobId": job.ID, "stepId": step.ID, "error": err.Error()})
		}
		return resp.Payload, nil
	}

	result, err := executor.Run(ctx, job.Plan.Steps, exec)

	_, terr := queue.Transition(ctx, job.ID, core.StatusExecuting, core.StatusReflecting, nil)
	if terr != nil {
		return terr
	}

	if err != nil || result.Status == dag.AggregateFailed {
		_, ferr := queue.Transition(ctx, job.ID, core.StatusReflecting, core.StatusFailed, &jobqueue.Patch{
			Error: &core.JobError{Kind: core.KindExceededAttempts, Message: "plan execution failed"},
		})
		if ferr != nil {
			return ferr
		}
		return err
	}

	payload := make(map[string]interface{}, len(result.StepResults))
	for _, sr := range result.StepResults {
		payload[sr.StepID] = sr
	}
	_, err = queue.Transition(ctx, job.ID, core.StatusReflecting, core.StatusCompleted, &jobqueue.Patch{
		Result: payload,
	})
	return err
}

// requestPlan dispatches job to the registered scout component and decodes
// its response payload into an ExecutionPlan. The payload round-trips
// through JSON rather than a type assertion since router.Envelope carries
// untyped map[string]interface{}.
func requestPlan(ctx context.Context, rtr *router.Router, job *core.Job) (*core.ExecutionPlan, error) {
	resp, err := rtr.Dispatch(ctx, router.Envelope{
		From:  "lifecycle",
		To:    scoutComponentID,
		Type:  "plan",
		JobID: job.ID,
		Payload: map[string]interface{}{
			"conversationId": job.ConversationID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request plan: %w", err)
	}
	if resp.Type == "error" {
		return nil, fmt.Errorf("scout declined to plan job %s: %v", job.ID, resp.Payload)
	}

	raw, err := json.Marshal(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal scout response: %w", err)
	}
	var plan core.ExecutionPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	plan.JobID = job.ID
	return &plan, nil
}
