package core

import "time"

// JobStatus is a value in the Job Queue's restricted state graph.
type JobStatus string

const (
	StatusPending           JobStatus = "pending"
	StatusPlanning          JobStatus = "planning"
	StatusValidating        JobStatus = "validating"
	StatusAwaitingApproval  JobStatus = "awaiting_approval"
	StatusExecuting         JobStatus = "executing"
	StatusReflecting        JobStatus = "reflecting"
	StatusCompleted         JobStatus = "completed"
	StatusFailed            JobStatus = "failed"
	StatusCancelled         JobStatus = "cancelled"
	StatusRejected          JobStatus = "rejected"
)

// TerminalStatuses is the closed set of statuses a job never leaves.
var TerminalStatuses = map[JobStatus]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusCancelled: true,
	StatusRejected:  true,
}

// IsTerminal reports whether s is a terminal job status.
func (s JobStatus) IsTerminal() bool { return TerminalStatuses[s] }

// JobSource identifies who originated a job.
type JobSource string

const (
	SourceUser     JobSource = "user"
	SourceSchedule JobSource = "schedule"
	SourceWebhook  JobSource = "webhook"
	SourceSubJob   JobSource = "sub-job"
)

// JobError is the persisted error payload attached to a failed job row.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is the unit of work tracked by the Job Queue & State Machine.
type Job struct {
	ID             string            `db:"id" json:"id"`
	ConversationID string            `db:"conversation_id" json:"conversationId,omitempty"`
	Source         JobSource         `db:"source" json:"source"`
	Status         JobStatus         `db:"status" json:"status"`
	Plan           *ExecutionPlan    `db:"plan" json:"plan,omitempty"`
	Validation     *ValidationResult `db:"validation" json:"validation,omitempty"`
	Result         map[string]interface{} `db:"result" json:"result,omitempty"`
	Error          *JobError         `db:"error" json:"error,omitempty"`
	Attempts       int               `db:"attempts" json:"attempts"`
	RevisionCount  int               `db:"revision_count" json:"revisionCount"`
	ReplanCount    int               `db:"replan_count" json:"replanCount"`
	CostUSD        float64           `db:"cost_usd" json:"costUsd"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
	StartedAt      *time.Time        `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt    *time.Time        `db:"completed_at" json:"completedAt,omitempty"`
	Metadata       map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
}

// RiskLevel is a step or plan's assessed risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// MoreRiskyThan reports whether a outranks b.
func (a RiskLevel) MoreRiskyThan(b RiskLevel) bool { return riskOrder[a] > riskOrder[b] }

// MaxRisk returns whichever of a, b is more risky.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if a.MoreRiskyThan(b) {
		return a
	}
	return b
}

// PlanStep is one plugin invocation within an ExecutionPlan.
type PlanStep struct {
	ID          string                 `json:"id"`
	Gear        string                 `json:"gear"`
	Action      string                 `json:"action"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	RiskLevel   RiskLevel              `json:"riskLevel"`
	DependsOn   []string               `json:"dependsOn,omitempty"`
	Condition   *StepCondition         `json:"condition,omitempty"`
	Description string                 `json:"description,omitempty"`
}

// StepCondition gates a step's execution on a prior step's observed result.
type StepCondition struct {
	Field    string      `json:"field"` // e.g. "step:s1.result.user.id"
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// ExecutionPlan is an ordered DAG of steps proposed by the planner.
type ExecutionPlan struct {
	ID        string     `json:"id"`
	JobID     string     `json:"jobId"`
	Steps     []PlanStep `json:"steps"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// Verdict is a validation or approval outcome, ordered most to least
// restrictive: Rejected > NeedsApproval > Revise > Approved.
type Verdict string

const (
	VerdictApproved      Verdict = "approved"
	VerdictNeedsApproval Verdict = "needs_user_approval"
	VerdictRejected      Verdict = "rejected"
	VerdictRevise        Verdict = "revise"
)

var verdictOrder = map[Verdict]int{
	VerdictApproved:      0,
	VerdictRevise:        1,
	VerdictNeedsApproval: 2,
	VerdictRejected:      3,
}

// MoreRestrictive reports whether a is a stricter verdict than b.
func (a Verdict) MoreRestrictive(b Verdict) bool { return verdictOrder[a] > verdictOrder[b] }

// StepResult is a single step's validation verdict.
type StepResult struct {
	StepID    string    `json:"stepId"`
	Verdict   Verdict   `json:"verdict"`
	RiskLevel RiskLevel `json:"riskLevel"`
	Category  string    `json:"category,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
}

// ValidationResult is the Plan Validator's output for one plan.
type ValidationResult struct {
	ID          string       `json:"id"`
	PlanID      string       `json:"planId"`
	Verdict     Verdict      `json:"verdict"`
	OverallRisk RiskLevel    `json:"overallRisk"`
	StepResults []StepResult `json:"stepResults"`
}

// ApprovalNonce gates one job's escalation past awaiting_approval.
type ApprovalNonce struct {
	Value      string     `db:"value" json:"value"`
	JobID      string     `db:"job_id" json:"jobId"`
	IssuedAt   time.Time  `db:"issued_at" json:"issuedAt"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumedAt,omitempty"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
}

// ExecutionStatus is the idempotency log's per-execution state.
type ExecutionStatus string

const (
	ExecStarted   ExecutionStatus = "started"
	ExecCompleted ExecutionStatus = "completed"
	ExecFailed    ExecutionStatus = "failed"
)

// ExecutionLogEntry is the idempotency ledger row for one (job, step) pair.
type ExecutionLogEntry struct {
	ExecutionID string                 `db:"execution_id" json:"executionId"`
	JobID       string                 `db:"job_id" json:"jobId"`
	StepID      string                 `db:"step_id" json:"stepId"`
	Status      ExecutionStatus        `db:"status" json:"status"`
	StartedAt   time.Time              `db:"started_at" json:"startedAt"`
	CompletedAt *time.Time             `db:"completed_at" json:"completedAt,omitempty"`
	Result      map[string]interface{} `db:"result" json:"result,omitempty"`
}

// RuleVerdict is a standing rule's auto-decision.
type RuleVerdict string

const (
	RuleApprove RuleVerdict = "approve"
	RuleDeny    RuleVerdict = "deny"
)

// StandingRule is a persistent auto-decision for matching action patterns.
type StandingRule struct {
	ID             string      `db:"id" json:"id"`
	ActionPattern  string      `db:"action_pattern" json:"actionPattern"`
	Scope          string      `db:"scope" json:"scope"`
	Verdict        RuleVerdict `db:"verdict" json:"verdict"`
	ExpiresAt      *time.Time  `db:"expires_at" json:"expiresAt,omitempty"`
	ApprovalCount  int         `db:"approval_count" json:"approvalCount"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
	CreatedBy      string      `db:"created_by" json:"createdBy"`
}

// AuditEntry is one row of the append-only, hash-chained audit log.
type AuditEntry struct {
	Seq       int64                  `db:"seq" json:"seq"`
	Timestamp time.Time              `db:"timestamp" json:"timestamp"`
	Actor     string                 `db:"actor" json:"actor"`
	Action    string                 `db:"action" json:"action"`
	Target    string                 `db:"target" json:"target"`
	Payload   map[string]interface{} `db:"payload" json:"payload,omitempty"`
	PrevHash  string                 `db:"prev_hash" json:"prevHash"`
	Hash      string                 `db:"hash" json:"hash"`
}
