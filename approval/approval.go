// Package approval implements the Approval Coordinator: the nonce-gated
// escalation path a job takes through awaiting_approval, with a standing-rule
// bypass checked first so routine, previously-approved actions never
// interrupt the operator.
package approval

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/jobqueue"
	"github.com/shreyasdbz/axis/router"
)

// RuleEvaluator decides whether a plan may bypass explicit approval and
// records approvals for frequency-based rule suggestions. Satisfied by
// *standingrule.Evaluator; declared here so this package does not import it
// directly, matching idempotency.FastPath's decoupling.
type RuleEvaluator interface {
	Bypass(ctx context.Context, plan *core.ExecutionPlan) (bool, error)
	RecordApproval(ctx context.Context, step core.PlanStep)
}

// Coordinator is the Approval Coordinator.
type Coordinator struct {
	db     *sqlx.DB
	queue  *jobqueue.Queue
	router *router.Router
	rules  RuleEvaluator
	logger core.Logger

	nonceTTL time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l core.Logger) Option        { return func(c *Coordinator) { c.logger = l } }
func WithRouter(r *router.Router) Option     { return func(c *Coordinator) { c.router = r } }
func WithRules(r RuleEvaluator) Option       { return func(c *Coordinator) { c.rules = r } }
func WithNonceTTL(d time.Duration) Option    { return func(c *Coordinator) { c.nonceTTL = d } }

// New builds a Coordinator over db (the meridian handle) and queue.
func New(db *sqlx.DB, queue *jobqueue.Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:       db,
		queue:    queue,
		logger:   &core.NoOpLogger{},
		nonceTTL: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestApproval moves job from validating into either executing (if a
// standing rule bypasses approval for every step of plan) or
// awaiting_approval, minting a fresh nonce in the latter case. Returns the
// nonce value when one was issued, empty otherwise.
func (c *Coordinator) RequestApproval(ctx context.Context, job *core.Job, plan *core.ExecutionPlan) (nonce string, updated *core.Job, err error) {
	if c.rules != nil {
		bypass, err := c.rules.Bypass(ctx, plan)
		if err != nil {
			return "", nil, core.NewAxisError("approval.RequestApproval", core.KindConfiguration, job.ID, err)
		}
		if bypass {
			updated, err := c.queue.Transition(ctx, job.ID, core.StatusValidating, core.StatusExecuting, nil)
			if err != nil {
				return "", nil, err
			}
			c.logger.Info("standing rule bypassed approval", map[string]interface{}{"jobId": job.ID})
			return "", updated, nil
		}
	}

	value, err := core.NewNonce()
	if err != nil {
		return "", nil, core.NewAxisError("approval.RequestApproval", core.KindConfiguration, job.ID, err)
	}
	now := time.Now().UTC()
	an := core.ApprovalNonce{
		Value:     value,
		JobID:     job.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.nonceTTL),
	}
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO approval_nonces (value, job_id, issued_at, consumed_at, expires_at)
		VALUES (?, ?, ?, NULL, ?)`, an.Value, an.JobID, an.IssuedAt, an.ExpiresAt); err != nil {
		return "", nil, core.NewAxisError("approval.RequestApproval", core.KindConfiguration, job.ID, err)
	}

	updated, err = c.queue.Transition(ctx, job.ID, core.StatusValidating, core.StatusAwaitingApproval, nil)
	if err != nil {
		return "", nil, err
	}

	if c.router != nil {
		_ = c.router.Publish(ctx, router.Envelope{
			Type:  "approval_required",
			JobID: job.ID,
			Payload: map[string]interface{}{
				"nonce":     an.Value,
				"expiresAt": an.ExpiresAt,
			},
		})
	}
	return value, updated, nil
}

// nonceRow mirrors approval_nonces for reads.
type nonceRow struct {
	Value      string       `db:"value"`
	JobID      string       `db:"job_id"`
	IssuedAt   time.Time    `db:"issued_at"`
	ConsumedAt sql.NullTime `db:"consumed_at"`
	ExpiresAt  time.Time    `db:"expires_at"`
}

// Approve consumes nonce for jobID and advances the job into executing. The
// nonce must exist, be unexpired, and not already consumed; consumption is
// atomic (UPDATE ... WHERE consumed_at IS NULL) so a racing double-approve
// loses instead of double-advancing the job.
func (c *Coordinator) Approve(ctx context.Context, jobID, nonce string) (*core.Job, error) {
	var row nonceRow
	err := c.db.GetContext(ctx, &row, `SELECT * FROM approval_nonces WHERE value = ? AND job_id = ?`, nonce, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NewAxisError("approval.Approve", core.KindInvalidNonce, jobID, core.ErrInvalidNonce)
	}
	if err != nil {
		return nil, core.NewAxisError("approval.Approve", core.KindConfiguration, jobID, err)
	}
	if row.ConsumedAt.Valid {
		return nil, core.NewAxisError("approval.Approve", core.KindNonceConsumed, jobID, core.ErrNonceConsumed)
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return nil, core.NewAxisError("approval.Approve", core.KindNonceExpired, jobID, core.ErrNonceExpired)
	}

	res, err := c.db.ExecContext(ctx, `
		UPDATE approval_nonces SET consumed_at = ? WHERE value = ? AND job_id = ? AND consumed_at IS NULL`,
		time.Now().UTC(), nonce, jobID)
	if err != nil {
		return nil, core.NewAxisError("approval.Approve", core.KindConfiguration, jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, core.NewAxisError("approval.Approve", core.KindConfiguration, jobID, err)
	}
	if n == 0 {
		return nil, core.NewAxisError("approval.Approve", core.KindNonceConsumed, jobID, core.ErrNonceConsumed)
	}

	job, err := c.queue.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	updated, err := c.queue.Transition(ctx, jobID, core.StatusAwaitingApproval, core.StatusExecuting, nil)
	if err != nil {
		return nil, err
	}

	if c.rules != nil && job.Plan != nil {
		for _, step := range job.Plan.Steps {
			c.rules.RecordApproval(ctx, step)
		}
	}
	return updated, nil
}

// Reject denies job without consuming a nonce, moving it directly to
// rejected. Used when the operator declines rather than approves.
func (c *Coordinator) Reject(ctx context.Context, jobID, reason string) (*core.Job, error) {
	patch := &jobqueue.Patch{
		Error: &core.JobError{Kind: core.KindUserRejected, Message: reason},
	}
	return c.queue.Transition(ctx, jobID, core.StatusAwaitingApproval, core.StatusRejected, patch)
}
