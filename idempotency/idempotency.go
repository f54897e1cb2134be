// Package idempotency implements the Idempotency Log: deterministic
// per-(job,step) execution ids with started/completed/failed bookkeeping,
// giving the DAG Executor crash-resume and at-most-once completion
// semantics.
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shreyasdbz/axis/core"
)

// Outcome is the decision checkIdempotency returns.
type Outcome string

const (
	OutcomeExecute Outcome = "execute"
	OutcomeCached  Outcome = "cached"
)

// Decision is the result of checking idempotency for a (job, step) pair.
type Decision struct {
	Outcome     Outcome
	ExecutionID string
	Result      map[string]interface{}
}

// FastPath is an optional read-through cache in front of the SQLite source
// of truth, used to short-circuit checkIdempotency for completed rows
// without a database round trip. A missing or unavailable fast path never
// changes correctness, only latency: every write still goes to SQLite
// first.
type FastPath interface {
	GetCompleted(ctx context.Context, executionID string) (map[string]interface{}, bool)
	SetCompleted(ctx context.Context, executionID string, result map[string]interface{})
	Invalidate(ctx context.Context, executionID string)
}

// Log is the Idempotency Log, backed by the meridian database's
// execution_log table.
type Log struct {
	db       *sqlx.DB
	fastPath FastPath
	logger   core.Logger
}

// Option configures a Log.
type Option func(*Log)

func WithFastPath(fp FastPath) Option   { return func(l *Log) { l.fastPath = fp } }
func WithLogger(lg core.Logger) Option  { return func(l *Log) { l.logger = lg } }

// New builds a Log over db (the meridian handle).
func New(db *sqlx.DB, opts ...Option) *Log {
	l := &Log{db: db, logger: &core.NoOpLogger{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check implements checkIdempotency per the decision table in spec §4.7.
func (l *Log) Check(ctx context.Context, jobID, stepID string) (Decision, error) {
	executionID := core.ExecutionID(jobID, stepID)

	if l.fastPath != nil {
		if result, ok := l.fastPath.GetCompleted(ctx, executionID); ok {
			return Decision{Outcome: OutcomeCached, ExecutionID: executionID, Result: result}, nil
		}
	}

	var row struct {
		Status string         `db:"status"`
		Result sql.NullString `db:"result"`
	}
	err := l.db.GetContext(ctx, &row, `SELECT status, result FROM execution_log WHERE execution_id = ?`, executionID)
	now := time.Now().UTC()

	switch {
	case err == sql.ErrNoRows:
		_, insertErr := l.db.ExecContext(ctx, `
			INSERT INTO execution_log (execution_id, job_id, step_id, status, started_at)
			VALUES (?, ?, ?, ?, ?)`,
			executionID, jobID, stepID, string(core.ExecStarted), now)
		if insertErr != nil {
			return Decision{}, insertErr
		}
		return Decision{Outcome: OutcomeExecute, ExecutionID: executionID}, nil

	case err != nil:
		return Decision{}, err

	case row.Status == string(core.ExecCompleted):
		var result map[string]interface{}
		if row.Result.Valid && row.Result.String != "" {
			if err := json.Unmarshal([]byte(row.Result.String), &result); err != nil {
				return Decision{}, err
			}
		}
		if result == nil {
			result = map[string]interface{}{}
		}
		if l.fastPath != nil {
			l.fastPath.SetCompleted(ctx, executionID, result)
		}
		return Decision{Outcome: OutcomeCached, ExecutionID: executionID, Result: result}, nil

	default: // started or failed: resume by resetting the attempt window
		_, updateErr := l.db.ExecContext(ctx, `
			UPDATE execution_log SET status = ?, started_at = ?, completed_at = NULL WHERE execution_id = ?`,
			string(core.ExecStarted), now, executionID)
		if updateErr != nil {
			return Decision{}, updateErr
		}
		return Decision{Outcome: OutcomeExecute, ExecutionID: executionID}, nil
	}
}

// RecordCompletion marks executionID completed with result, the terminal
// state for that id.
func (l *Log) RecordCompletion(ctx context.Context, executionID string, result map[string]interface{}) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = l.db.ExecContext(ctx, `
		UPDATE execution_log SET status = ?, completed_at = ?, result = ? WHERE execution_id = ?`,
		string(core.ExecCompleted), now, string(resultJSON), executionID)
	if err != nil {
		return err
	}
	if l.fastPath != nil {
		l.fastPath.SetCompleted(ctx, executionID, result)
	}
	l.logger.Debug("execution completed", map[string]interface{}{"executionId": executionID})
	return nil
}

// RecordFailure marks executionID failed, clearing any stored result.
func (l *Log) RecordFailure(ctx context.Context, executionID string) error {
	now := time.Now().UTC()
	_, err := l.db.ExecContext(ctx, `
		UPDATE execution_log SET status = ?, completed_at = ?, result = NULL WHERE execution_id = ?`,
		string(core.ExecFailed), now, executionID)
	if err != nil {
		return err
	}
	if l.fastPath != nil {
		l.fastPath.Invalidate(ctx, executionID)
	}
	l.logger.Debug("execution failed", map[string]interface{}{"executionId": executionID})
	return nil
}
