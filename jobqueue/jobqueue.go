// Package jobqueue implements the durable Job Queue & State Machine: jobs
// progress through a restricted state graph, guarded by compare-and-set
// transitions and recovered from crashes at startup.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shreyasdbz/axis/core"
	"github.com/shreyasdbz/axis/router"
	"github.com/shreyasdbz/axis/store"
)

// transitions is the exhaustive permitted-transition table from spec §4.2.
var transitions = map[core.JobStatus]map[core.JobStatus]bool{
	core.StatusPending: {
		core.StatusPlanning:  true,
		core.StatusCancelled: true,
	},
	core.StatusPlanning: {
		core.StatusValidating: true,
		core.StatusFailed:     true,
		core.StatusCancelled:  true,
	},
	core.StatusValidating: {
		core.StatusAwaitingApproval: true,
		core.StatusExecuting:        true,
		core.StatusRejected:         true,
		core.StatusPlanning:         true, // revise
		core.StatusFailed:           true,
		core.StatusCancelled:        true,
	},
	core.StatusAwaitingApproval: {
		core.StatusExecuting: true,
		core.StatusRejected:  true,
		core.StatusCancelled: true,
	},
	core.StatusExecuting: {
		core.StatusReflecting: true,
		core.StatusFailed:     true,
		core.StatusCancelled:  true,
	},
	core.StatusReflecting: {
		core.StatusCompleted: true,
		core.StatusFailed:    true,
	},
}

// IsPermitted reports whether (from, to) is a legal transition.
func IsPermitted(from, to core.JobStatus) bool {
	return transitions[from][to]
}

// Patch carries the optional fields a transition may update in the same
// compare-and-set transaction as the status change.
type Patch struct {
	Plan          *core.ExecutionPlan
	Validation    *core.ValidationResult
	Result        map[string]interface{}
	Error         *core.JobError
	AddCost       float64
	RevisionDelta int
	ReplanDelta   int
}

// CreateOptions configures createJob.
type CreateOptions struct {
	ConversationID string
	Source         core.JobSource
	Metadata       map[string]interface{}
}

// Queue is the Job Queue & State Machine, backed by the meridian database.
type Queue struct {
	db     *sqlx.DB
	router *router.Router
	logger core.Logger

	recoveryGrace     time.Duration
	defaultMaxAttempts int
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l core.Logger) Option { return func(q *Queue) { q.logger = l } }
func WithRouter(r *router.Router) Option { return func(q *Queue) { q.router = r } }
func WithRecoveryGrace(d time.Duration) Option { return func(q *Queue) { q.recoveryGrace = d } }
func WithDefaultMaxAttempts(n int) Option { return func(q *Queue) { q.defaultMaxAttempts = n } }

// New builds a Queue over the store's meridian database.
func New(st *store.Store, opts ...Option) *Queue {
	q := &Queue{
		db:                 st.Meridian,
		logger:             &core.NoOpLogger{},
		recoveryGrace:       2 * time.Minute,
		defaultMaxAttempts: 3,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type jobRow struct {
	ID             string         `db:"id"`
	ConversationID sql.NullString `db:"conversation_id"`
	Source         string         `db:"source"`
	Status         string         `db:"status"`
	Plan           sql.NullString `db:"plan"`
	Validation     sql.NullString `db:"validation"`
	Result         sql.NullString `db:"result"`
	Error          sql.NullString `db:"error"`
	Attempts       int            `db:"attempts"`
	RevisionCount  int            `db:"revision_count"`
	ReplanCount    int            `db:"replan_count"`
	CostUSD        float64        `db:"cost_usd"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	Metadata       sql.NullString `db:"metadata"`
}

func (r *jobRow) toJob() (*core.Job, error) {
	j := &core.Job{
		ID:            r.ID,
		Source:        core.JobSource(r.Source),
		Status:        core.JobStatus(r.Status),
		Attempts:      r.Attempts,
		RevisionCount: r.RevisionCount,
		ReplanCount:   r.ReplanCount,
		CostUSD:       r.CostUSD,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ConversationID.Valid {
		j.ConversationID = r.ConversationID.String
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		j.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		j.CompletedAt = &t
	}
	if r.Plan.Valid && r.Plan.String != "" {
		var p core.ExecutionPlan
		if err := json.Unmarshal([]byte(r.Plan.String), &p); err != nil {
			return nil, err
		}
		j.Plan = &p
	}
	if r.Validation.Valid && r.Validation.String != "" {
		var v core.ValidationResult
		if err := json.Unmarshal([]byte(r.Validation.String), &v); err != nil {
			return nil, err
		}
		j.Validation = &v
	}
	if r.Result.Valid && r.Result.String != "" {
		if err := json.Unmarshal([]byte(r.Result.String), &j.Result); err != nil {
			return nil, err
		}
	}
	if r.Error.Valid && r.Error.String != "" {
		var e core.JobError
		if err := json.Unmarshal([]byte(r.Error.String), &e); err != nil {
			return nil, err
		}
		j.Error = &e
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &j.Metadata); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func marshalNullable(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// CreateJob allocates a new job id and persists it in status=pending.
func (q *Queue) CreateJob(ctx context.Context, opts CreateOptions) (*core.Job, error) {
	now := time.Now().UTC()
	j := &core.Job{
		ID:             core.NewID(),
		ConversationID: opts.ConversationID,
		Source:         opts.Source,
		Status:         core.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       opts.Metadata,
	}
	metaJSON, err := marshalNullable(j.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, conversation_id, source, status, attempts, revision_count, replan_count, cost_usd, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, 0, 0, 0, 0, ?, ?, ?)`,
		j.ID, nullableString(j.ConversationID), string(j.Source), string(j.Status), j.CreatedAt, j.UpdatedAt, metaJSON)
	if err != nil {
		return nil, fmt.Errorf("createJob: %w", err)
	}
	q.logger.Info("job created", map[string]interface{}{"jobId": j.ID, "source": string(j.Source)})
	return j, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*core.Job, error) {
	var row jobRow
	err := q.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, core.NewAxisError("jobqueue.Get", core.KindNotFound, id, core.ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}
	return row.toJob()
}

// Transition performs the compare-and-set state change (id, expectedFrom) ->
// to, applying patch atomically, and broadcasts a status.update message
// through the router if one is configured.
func (q *Queue) Transition(ctx context.Context, id string, expectedFrom, to core.JobStatus, patch *Patch) (*core.Job, error) {
	if !IsPermitted(expectedFrom, to) {
		return nil, core.NewAxisError("jobqueue.Transition", core.KindIllegalTransition, id, core.ErrIllegalTransition)
	}

	now := time.Now().UTC()
	setClauses := "status = ?, updated_at = ?"
	args := []interface{}{string(to), now}

	if patch != nil {
		if patch.Plan != nil {
			planJSON, err := marshalNullable(patch.Plan)
			if err != nil {
				return nil, err
			}
			setClauses += ", plan = ?"
			args = append(args, planJSON)
		}
		if patch.Validation != nil {
			valJSON, err := marshalNullable(patch.Validation)
			if err != nil {
				return nil, err
			}
			setClauses += ", validation = ?"
			args = append(args, valJSON)
		}
		if patch.Result != nil {
			resJSON, err := marshalNullable(patch.Result)
			if err != nil {
				return nil, err
			}
			setClauses += ", result = ?"
			args = append(args, resJSON)
		}
		if patch.Error != nil {
			errJSON, err := marshalNullable(patch.Error)
			if err != nil {
				return nil, err
			}
			setClauses += ", error = ?"
			args = append(args, errJSON)
		}
		if patch.AddCost != 0 {
			setClauses += ", cost_usd = cost_usd + ?"
			args = append(args, patch.AddCost)
		}
		if patch.RevisionDelta != 0 {
			setClauses += ", revision_count = revision_count + ?"
			args = append(args, patch.RevisionDelta)
		}
		if patch.ReplanDelta != 0 {
			setClauses += ", replan_count = replan_count + ?"
			args = append(args, patch.ReplanDelta)
		}
	}
	if to == core.StatusExecuting {
		setClauses += ", started_at = COALESCE(started_at, ?)"
		args = append(args, now)
	}
	if to.IsTerminal() {
		setClauses += ", completed_at = ?"
		args = append(args, now)
	}

	args = append(args, id, string(expectedFrom))
	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ? AND status = ?`, setClauses)

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, core.NewAxisError("jobqueue.Transition", core.KindIllegalTransition, id, core.ErrIllegalTransition)
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if q.router != nil {
		_ = q.router.Publish(ctx, router.Envelope{
			Type:    "status.update",
			JobID:   job.ID,
			Payload: map[string]interface{}{"jobId": job.ID, "status": string(job.Status)},
		})
	}
	q.logger.Info("job transitioned", map[string]interface{}{"jobId": id, "from": string(expectedFrom), "to": string(to)})
	return job, nil
}

// Claim selects the oldest pending job and moves it to planning with the
// compare-and-set update Transition performs, returning nil if the queue is
// empty. The select and the update are two statements, not one transaction:
// a worker that loses the race for the selected row also gets nil, even if
// other pending jobs remain.
func (q *Queue) Claim(ctx context.Context, workerID string) (*core.Job, error) {
	var id string
	err := q.db.GetContext(ctx, &id, `SELECT id FROM jobs WHERE status = ? ORDER BY created_at ASC LIMIT 1`, string(core.StatusPending))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job, err := q.Transition(ctx, id, core.StatusPending, core.StatusPlanning, nil)
	if err != nil {
		// Lost the race to another worker; treat as empty claim rather than error.
		if kind, ok := core.KindOf(err); ok && kind == core.KindIllegalTransition {
			return nil, nil
		}
		return nil, err
	}
	q.logger.Debug("job claimed", map[string]interface{}{"jobId": job.ID, "workerId": workerID})
	return job, nil
}

// Cancel transitions a non-terminal job to cancelled. A job in reflecting has
// no permitted transition to cancelled, so cancelling it fails with
// ILLEGAL_TRANSITION, as does cancelling a terminal job.
func (q *Queue) Cancel(ctx context.Context, id string) (*core.Job, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, core.NewAxisError("jobqueue.Cancel", core.KindIllegalTransition, id, core.ErrIllegalTransition)
	}
	return q.Transition(ctx, id, job.Status, core.StatusCancelled, nil)
}

// RecoverCrashed reverts jobs stuck in a non-terminal, non-pending,
// non-awaiting_approval state past the recovery grace period back to
// pending, bumping attempts, or fails them outright once attempts exceed
// the configured maximum. Run once at lifecycle startup.
func (q *Queue) RecoverCrashed(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-q.recoveryGrace)
	rows, err := q.db.QueryxContext(ctx, `
		SELECT id, attempts FROM jobs
		WHERE status NOT IN (?, ?, ?, ?, ?, ?)
		AND updated_at < ?`,
		string(core.StatusPending), string(core.StatusAwaitingApproval),
		string(core.StatusCompleted), string(core.StatusFailed), string(core.StatusCancelled), string(core.StatusRejected),
		cutoff)
	if err != nil {
		return 0, err
	}
	type stale struct {
		ID       string
		Attempts int
	}
	var staleJobs []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.ID, &s.Attempts); err != nil {
			rows.Close()
			return 0, err
		}
		staleJobs = append(staleJobs, s)
	}
	rows.Close()

	recovered := 0
	for _, s := range staleJobs {
		now := time.Now().UTC()
		if s.Attempts+1 > q.defaultMaxAttempts {
			_, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
				string(core.StatusFailed),
				mustJSON(core.JobError{Kind: core.KindExceededAttempts, Message: "exceeded maximum recovery attempts"}),
				now, now, s.ID)
			if err != nil {
				return recovered, err
			}
			q.logger.Warn("job failed during crash recovery", map[string]interface{}{"jobId": s.ID})
			continue
		}
		_, err := q.db.ExecContext(ctx, `UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
			string(core.StatusPending), now, s.ID)
		if err != nil {
			return recovered, err
		}
		recovered++
		q.logger.Info("job reverted to pending during crash recovery", map[string]interface{}{"jobId": s.ID})
	}
	return recovered, nil
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
